// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0

// Package conduit implements a multi-database query execution service.
// Pre-defined SQL queries are executed by reference: callers submit a
// database name, a query_ref and parameters; the dispatcher resolves the
// cached template, binds parameters, routes the job to a per-database
// worker queue segmented by expected latency, and rendezvouses with the
// worker through a pending-result registry.
package conduit

import "errors"

// System errors. Queue-level submission errors live in the dbqueue
// package; these cover dispatch-level failures.
var (
	ErrDatabaseNotFound = errors.New("database not found")
	ErrQueryNotFound    = errors.New("query not found")
	ErrTimeout          = errors.New("query execution timeout")
	ErrInvalidParams    = errors.New("invalid query parameters")
)

// Version is set at build time via ldflags.
var Version = "v0.0.0-dev"
