// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package dbqueue

import (
	"sync"
	"time"

	"github.com/conduitdb/conduit/engine"
	"github.com/conduitdb/conduit/logger"
	"github.com/pkg/errors"
)

// ErrWaitTimeout is returned by Wait and WaitMultiple when the deadline
// passes before every awaited query completes.
var ErrWaitTimeout = errors.New("timed out waiting for query result")

// pendingInitialCapacity is the registry's starting size; it doubles on
// overflow.
const pendingInitialCapacity = 16

// PendingQueryResult is the rendezvous object linking an asynchronously
// executing query to the caller awaiting its outcome. A worker signals it
// exactly once; one or more callers may wait on it. The effective
// deadline is always computed from the submission time, so repeated
// partial waits never extend it.
type PendingQueryResult struct {
	queryID     string
	submittedAt time.Time
	timeout     time.Duration

	ready chan struct{} // closed when the result arrives

	mu        sync.Mutex
	completed bool
	timedOut  bool
	result    *engine.Result
}

// QueryID returns the process-unique id this entry was registered under.
func (p *PendingQueryResult) QueryID() string { return p.queryID }

// Completed reports whether a worker has signaled a result.
func (p *PendingQueryResult) Completed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// TimedOut reports whether a waiter gave up on this entry.
func (p *PendingQueryResult) TimedOut() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timedOut
}

// Result returns the signaled result, or nil if none arrived yet.
func (p *PendingQueryResult) Result() *engine.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.completed {
		return nil
	}
	return p.result
}

func (p *PendingQueryResult) deadline() time.Time {
	return p.submittedAt.Add(p.timeout)
}

func (p *PendingQueryResult) markTimedOut() {
	p.mu.Lock()
	p.timedOut = true
	p.mu.Unlock()
}

// Wait blocks until the result is signaled or the entry's deadline
// (submission time plus timeout) passes. A zero timeout times out
// immediately. The worker is never interrupted: a timeout bounds how
// long the caller waits, not how long the query runs.
func (p *PendingQueryResult) Wait() error {
	select {
	case <-p.ready:
		return nil
	default:
	}
	remaining := time.Until(p.deadline())
	if remaining <= 0 {
		p.markTimedOut()
		return ErrWaitTimeout
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-p.ready:
		return nil
	case <-timer.C:
		p.markTimedOut()
		return ErrWaitTimeout
	}
}

// PendingResultManager is the process-wide registry of in-flight
// queries. One mutex guards the backing array; waiting happens on the
// entries themselves so registration and signaling proceed concurrently
// with blocked waiters.
type PendingResultManager struct {
	mu      sync.Mutex
	label   string
	logger  logger.Logger
	results []*PendingQueryResult
}

// NewPendingResultManager creates an empty registry.
func NewPendingResultManager(label string, log logger.Logger) *PendingResultManager {
	if log == nil {
		log = logger.NopLogger
	}
	return &PendingResultManager{
		label:   label,
		logger:  log,
		results: make([]*PendingQueryResult, 0, pendingInitialCapacity),
	}
}

// Register adds a new pending entry for queryID. Registering an id that
// is already pending fails; uniqueness is the submitter's contract.
func (m *PendingResultManager) Register(queryID string, timeout time.Duration) (*PendingQueryResult, error) {
	if queryID == "" {
		return nil, errors.New("query id required")
	}
	pending := &PendingQueryResult{
		queryID:     queryID,
		submittedAt: time.Now(),
		timeout:     timeout,
		ready:       make(chan struct{}),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.results {
		if existing.queryID == queryID {
			return nil, errors.Errorf("%s: query id %q already pending", m.label, queryID)
		}
	}
	if len(m.results) == cap(m.results) {
		grown := make([]*PendingQueryResult, len(m.results), cap(m.results)*2)
		copy(grown, m.results)
		m.results = grown
	}
	m.results = append(m.results, pending)
	return pending, nil
}

// SignalReady attaches result to the pending entry for queryID and wakes
// every waiter. Returns false when no matching entry exists — not an
// error, just the race where the waiter already timed out and the entry
// was reclaimed; the caller keeps ownership of result in that case.
func (m *PendingResultManager) SignalReady(queryID string, result *engine.Result) bool {
	m.mu.Lock()
	var pending *PendingQueryResult
	for _, p := range m.results {
		if p.queryID == queryID {
			pending = p
			break
		}
	}
	m.mu.Unlock()

	if pending == nil {
		m.logger.Debugf("%s: no pending entry for query %s", m.label, queryID)
		return false
	}

	pending.mu.Lock()
	if !pending.completed {
		pending.result = result
		pending.completed = true
		close(pending.ready)
	}
	pending.mu.Unlock()
	return true
}

// Remove drops the entry for queryID from the registry. Called by the
// waiter once the result has been consumed.
func (m *PendingResultManager) Remove(queryID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.results {
		if p.queryID == queryID {
			m.results = append(m.results[:i], m.results[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered entries.
func (m *PendingResultManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

// WaitMultiple blocks until every entry completes or the collective
// timeout elapses, whichever comes first. It returns ErrWaitTimeout if
// any entry is incomplete at the deadline; partial completion is still
// visible through each entry's Completed flag so callers can build a
// partial response.
func (m *PendingResultManager) WaitMultiple(pending []*PendingQueryResult, collectiveTimeout time.Duration) error {
	deadline := time.Now().Add(collectiveTimeout)
	incomplete := false
	for _, p := range pending {
		if p == nil {
			incomplete = true
			continue
		}
		select {
		case <-p.ready:
			continue
		default:
		}
		remaining := time.Until(deadline)
		if entryRemaining := time.Until(p.deadline()); entryRemaining < remaining {
			remaining = entryRemaining
		}
		if remaining <= 0 {
			p.markTimedOut()
			incomplete = true
			continue
		}
		timer := time.NewTimer(remaining)
		select {
		case <-p.ready:
		case <-timer.C:
			p.markTimedOut()
			incomplete = true
		}
		timer.Stop()
	}
	if incomplete {
		return ErrWaitTimeout
	}
	return nil
}

// CleanupExpired sweeps entries whose deadline has passed without
// completion, removing them and discarding any late-arriving result.
// Returns the number reclaimed. Run periodically so abandoned waits
// don't grow the registry without bound.
func (m *PendingResultManager) CleanupExpired() int {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	cleaned := 0
	kept := m.results[:0]
	for _, p := range m.results {
		p.mu.Lock()
		expired := !p.completed && (now.After(p.deadline()) || p.timedOut)
		p.mu.Unlock()
		if expired {
			cleaned++
			continue
		}
		kept = append(kept, p)
	}
	m.results = kept
	if cleaned > 0 {
		m.logger.Debugf("%s: reclaimed %d expired pending results", m.label, cleaned)
	}
	return cleaned
}
