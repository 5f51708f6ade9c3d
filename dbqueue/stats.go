// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package dbqueue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats carries the manager-wide query counters. Workers record into it
// from every queue; the HTTP layer exposes it on /metrics.
type Stats struct {
	TotalQueries      prometheus.Counter
	SuccessfulQueries prometheus.Counter
	FailedQueries     prometheus.Counter
	TimedOutWaits     prometheus.Counter
}

// NewStats builds the counter set and registers it with reg. A nil reg
// skips registration, which tests use to avoid duplicate-collector
// panics.
func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{
		TotalQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "queries_total",
			Help:      "Total queries executed across all database queues.",
		}),
		SuccessfulQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "queries_successful_total",
			Help:      "Queries that executed without an engine error.",
		}),
		FailedQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "queries_failed_total",
			Help:      "Queries that completed with an engine error.",
		}),
		TimedOutWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "conduit",
			Name:      "query_wait_timeouts_total",
			Help:      "Caller waits that timed out before the query completed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(s.TotalQueries, s.SuccessfulQueries, s.FailedQueries, s.TimedOutWaits)
	}
	return s
}

func (s *Stats) recordQuery(success bool) {
	if s == nil {
		return
	}
	s.TotalQueries.Inc()
	if success {
		s.SuccessfulQueries.Inc()
	} else {
		s.FailedQueries.Inc()
	}
}

// RecordWaitTimeout counts a caller giving up on a pending result.
func (s *Stats) RecordWaitTimeout() {
	if s == nil {
		return
	}
	s.TimedOutWaits.Inc()
}
