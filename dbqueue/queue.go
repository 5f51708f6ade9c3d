// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package dbqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/conduitdb/conduit/engine"
	"github.com/conduitdb/conduit/logger"
	"github.com/pkg/errors"
)

// State is the lifecycle position of a DatabaseQueue.
type State int

const (
	StateCreated State = iota
	StateConnecting
	StateReady
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Submission errors, distinguishable so the API layer can answer
// server-busy versus unavailable.
var (
	ErrQueueFull     = errors.New("queue full")
	ErrQueueNotReady = errors.New("queue not accepting queries")
)

const (
	// connectAttempts bounds connection retries before the database is
	// reported unavailable.
	connectAttempts = 3

	// connectBackoff is the base delay between connection retries.
	connectBackoff = time.Second
)

// Job is one submitted unit of work. Ownership passes from the
// dispatcher to the queue on Submit, then to the worker that dequeues
// it; the result travels back through the pending-result registry under
// QueryID.
type Job struct {
	QueryID     string
	SQL         string
	Params      []engine.TypedParameter
	SubmittedAt time.Time
}

// QueueOptions sizes one queue.
type QueueOptions struct {
	Workers  int
	Capacity int
}

// DatabaseQueue is a named, engine-typed work queue for one
// (database, speed class) pair. Worker goroutines drain the job FIFO
// against the queue's engine connection. Exactly one queue per database
// is the lead queue; it owns the shared query table cache and runs the
// bootstrap query once while transitioning to Ready.
type DatabaseQueue struct {
	databaseName   string
	queueType      QueueType
	isLead         bool
	eng            engine.Engine
	pending        *PendingResultManager
	cache          *QueryTableCache
	bootstrapQuery string
	logger         logger.Logger
	stats          *Stats

	jobs    chan *Job
	workers int
	wg      sync.WaitGroup

	mu    sync.Mutex
	state State

	// one-time bootstrap flags, set by the lead queue and never reset
	bootstrapCompleted   bool
	emptyDatabase        bool
	orphanedTableDropped bool

	lastHeartbeat time.Time
}

func newDatabaseQueue(database string, qt QueueType, eng engine.Engine, pending *PendingResultManager, cache *QueryTableCache, opts QueueOptions, log logger.Logger, stats *Stats) *DatabaseQueue {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 256
	}
	return &DatabaseQueue{
		databaseName: database,
		queueType:    qt,
		eng:          eng,
		pending:      pending,
		cache:        cache,
		logger:       log.WithPrefix(fmt.Sprintf("[DB:%s:%s] ", database, qt)),
		stats:        stats,
		jobs:         make(chan *Job, opts.Capacity),
		workers:      opts.Workers,
		state:        StateCreated,
	}
}

// DatabaseName returns the owning database's name.
func (q *DatabaseQueue) DatabaseName() string { return q.databaseName }

// QueueType returns this queue's speed class.
func (q *DatabaseQueue) QueueType() QueueType { return q.queueType }

// IsLead reports whether this is the database's lead queue.
func (q *DatabaseQueue) IsLead() bool { return q.isLead }

// EngineType returns the underlying engine's type.
func (q *DatabaseQueue) EngineType() engine.Type { return q.eng.Type() }

// Cache returns the query table cache shared across the database's
// queues. Only the lead queue populates it.
func (q *DatabaseQueue) Cache() *QueryTableCache { return q.cache }

// State returns the queue's current lifecycle state.
func (q *DatabaseQueue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

func (q *DatabaseQueue) setState(s State) {
	q.mu.Lock()
	q.state = s
	q.mu.Unlock()
}

// BootstrapCompleted reports whether the lead queue finished its one-time
// bootstrap (successfully or not — bootstrap failures are soft).
func (q *DatabaseQueue) BootstrapCompleted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.bootstrapCompleted
}

// EmptyDatabase reports whether bootstrap found zero cached queries.
func (q *DatabaseQueue) EmptyDatabase() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.emptyDatabase
}

// OrphanedTableDropped reports whether bootstrap attempted the
// orphaned-table drop.
func (q *DatabaseQueue) OrphanedTableDropped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.orphanedTableDropped
}

// Start connects the queue and brings it to Ready, spawning its worker
// goroutines. Connection failures retry with backoff up to
// connectAttempts; exhausting them reports the database unavailable
// without taking the process down. The lead queue runs bootstrap inside
// the Connecting->Ready transition.
func (q *DatabaseQueue) Start(ctx context.Context) error {
	q.setState(StateConnecting)

	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		if err = q.eng.Ping(ctx); err == nil {
			break
		}
		q.logger.Warnf("connection attempt %d/%d failed: %v", attempt, connectAttempts, err)
		if attempt < connectAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * connectBackoff):
			}
		}
	}
	if err != nil {
		return errors.Wrapf(err, "database %s unavailable", q.databaseName)
	}

	if q.isLead {
		q.runBootstrap(ctx)
	}

	q.setState(StateReady)
	q.touchHeartbeat()
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.logger.Infof("queue ready with %d worker(s)", q.workers)
	return nil
}

// Submit enqueues a job. Fails when the queue is not accepting work or
// its backlog is full; the caller unwinds its pending registration on
// failure. The state check and the channel send happen under one lock
// acquisition so Stop cannot close the channel between them.
func (q *DatabaseQueue) Submit(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.state != StateReady {
		return errors.Wrapf(ErrQueueNotReady, "queue %s/%s in state %s", q.databaseName, q.queueType, q.state)
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return errors.Wrapf(ErrQueueFull, "queue %s/%s", q.databaseName, q.queueType)
	}
}

// Depth returns the number of queued, not-yet-dequeued jobs.
func (q *DatabaseQueue) Depth() int { return len(q.jobs) }

// Stop drains the queue and shuts its workers down. No new jobs are
// accepted once draining begins; outstanding jobs keep executing until
// the queue empties or drainTimeout elapses.
func (q *DatabaseQueue) Stop(drainTimeout time.Duration) {
	q.mu.Lock()
	if q.state == StateDraining || q.state == StateStopped {
		// another Stop already owns the shutdown
		q.mu.Unlock()
		return
	}
	started := q.state == StateReady
	q.state = StateDraining
	q.mu.Unlock()

	// safe to close once Draining is visible: Submit sends while
	// holding q.mu, so no submitter can still reach the channel
	close(q.jobs)
	if started {
		done := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(drainTimeout):
			q.logger.Warnf("drain timeout after %s with %d job(s) unfinished", drainTimeout, len(q.jobs))
		}
	}
	q.setState(StateStopped)
}

func (q *DatabaseQueue) worker() {
	defer q.wg.Done()
	for job := range q.jobs {
		q.execute(job)
	}
}

// execute runs one job against the engine and signals its pending entry.
// Engine failures complete the job normally with a failed result; they
// are never dispatch-level errors.
func (q *DatabaseQueue) execute(job *Job) {
	start := time.Now()
	result, err := q.eng.Execute(context.Background(), job.SQL, job.Params)
	if err != nil {
		q.logger.Errorf("query %s failed: %v", job.QueryID, err)
		result = engine.Failed(err, time.Since(start))
	}

	q.stats.recordQuery(result.Success)
	q.touchHeartbeat()

	if !q.pending.SignalReady(job.QueryID, result) {
		// waiter already gave up and the entry was reclaimed
		q.logger.Debugf("query %s completed with no waiter", job.QueryID)
	}
}

func (q *DatabaseQueue) touchHeartbeat() {
	q.mu.Lock()
	q.lastHeartbeat = time.Now()
	q.mu.Unlock()
}

// LastHeartbeat returns the time of the last worker activity or
// heartbeat check.
func (q *DatabaseQueue) LastHeartbeat() time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastHeartbeat
}

// heartbeat pings the engine connection; database/sql reconnects dropped
// connections on demand, so a failed ping is logged and retried on the
// next interval rather than tearing the queue down.
func (q *DatabaseQueue) heartbeat(ctx context.Context) {
	if q.State() != StateReady {
		return
	}
	if err := q.eng.Ping(ctx); err != nil {
		q.logger.Warnf("heartbeat ping failed: %v", err)
	}
	q.touchHeartbeat()
}
