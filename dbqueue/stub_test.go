// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package dbqueue

import (
	"context"
	"sync"

	"github.com/conduitdb/conduit/engine"
)

// stubEngine is an in-memory engine for queue and bootstrap tests. It
// records every executed statement and answers via execFn.
type stubEngine struct {
	typ     engine.Type
	execFn  func(query string, params []engine.TypedParameter) (*engine.Result, error)
	pingErr error

	mu       sync.Mutex
	executed []string
	closed   bool
}

func newStubEngine(execFn func(query string, params []engine.TypedParameter) (*engine.Result, error)) *stubEngine {
	return &stubEngine{typ: engine.TypeSQLite, execFn: execFn}
}

func (e *stubEngine) Type() engine.Type { return e.typ }

func (e *stubEngine) Execute(ctx context.Context, query string, params []engine.TypedParameter) (*engine.Result, error) {
	e.mu.Lock()
	e.executed = append(e.executed, query)
	e.mu.Unlock()
	if e.execFn == nil {
		return &engine.Result{Success: true, DataJSON: "[]"}, nil
	}
	return e.execFn(query, params)
}

func (e *stubEngine) Ping(ctx context.Context) error { return e.pingErr }

func (e *stubEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *stubEngine) executedQueries() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.executed))
	copy(out, e.executed)
	return out
}

// okResult builds a successful row-returning result carrying dataJSON.
func okResult(dataJSON string) *engine.Result {
	return &engine.Result{Success: true, DataJSON: dataJSON}
}
