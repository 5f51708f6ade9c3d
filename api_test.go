// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package conduit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/conduitdb/conduit/dbqueue"
	"github.com/conduitdb/conduit/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine serves the bootstrap query table and scripted per-query
// behavior for dispatcher tests.
type fakeEngine struct {
	mu     sync.Mutex
	execFn func(query string, params []engine.TypedParameter) (*engine.Result, error)
}

func (e *fakeEngine) Type() engine.Type { return engine.TypeSQLite }

func (e *fakeEngine) Execute(ctx context.Context, query string, params []engine.TypedParameter) (*engine.Result, error) {
	e.mu.Lock()
	fn := e.execFn
	e.mu.Unlock()
	if fn != nil {
		return fn(query, params)
	}
	return &engine.Result{Success: true, DataJSON: "[]"}, nil
}

func (e *fakeEngine) Ping(ctx context.Context) error { return nil }
func (e *fakeEngine) Close() error                   { return nil }

func (e *fakeEngine) setExecFn(fn func(query string, params []engine.TypedParameter) (*engine.Result, error)) {
	e.mu.Lock()
	e.execFn = fn
	e.mu.Unlock()
}

const testQueryTable = `[
	{"ref": 1, "query": "SELECT * FROM users", "queue": "slow", "timeout": 30},
	{"ref": 2, "query": "SELECT * FROM users WHERE id = :id", "queue": "fast", "timeout": 5},
	{"ref": 3, "query": "SELECT pg_sleep(:secs)", "queue": "slow", "timeout": 1}
]`

func newTestAPI(t *testing.T) (*API, *fakeEngine) {
	t.Helper()
	eng := &fakeEngine{}
	eng.setExecFn(func(query string, params []engine.TypedParameter) (*engine.Result, error) {
		return &engine.Result{Success: true, DataJSON: testQueryTable}, nil
	})

	mgr := dbqueue.NewManager(dbqueue.ManagerOptions{
		HeartbeatInterval: time.Hour,
		DrainTimeout:      time.Second,
	})
	_, err := mgr.AddDatabase(dbqueue.DatabaseOptions{
		Name:           "main",
		Engine:         eng,
		BootstrapQuery: "SELECT * FROM query_table",
		Queues: map[dbqueue.QueueType]dbqueue.QueueOptions{
			dbqueue.QueueSlow: {Workers: 1, Capacity: 16},
			dbqueue.QueueFast: {Workers: 2, Capacity: 16},
		},
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Start(context.Background()))
	t.Cleanup(mgr.Stop)

	// bootstrap is done; switch to echoing the query text back
	eng.setExecFn(func(query string, params []engine.TypedParameter) (*engine.Result, error) {
		return &engine.Result{
			Success:  true,
			RowCount: 1,
			DataJSON: fmt.Sprintf(`[{"sql":%q}]`, query),
		}, nil
	})

	api, err := NewAPI(APIOptions{Manager: mgr, CollectiveTimeout: 5 * time.Second})
	require.NoError(t, err)
	return api, eng
}

func TestAPI_SubmitAndWait(t *testing.T) {
	api, _ := newTestAPI(t)

	resp, err := api.SubmitAndWait(&QueryRequest{
		Database: "main",
		QueryRef: 2,
		Params:   json.RawMessage(`{"id": 7}`),
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.QueryID)
	assert.JSONEq(t, `[{"sql":"SELECT * FROM users WHERE id = ?"}]`, string(resp.Data))
}

func TestAPI_SubmitAndWaitErrors(t *testing.T) {
	api, _ := newTestAPI(t)

	_, err := api.SubmitAndWait(&QueryRequest{Database: "nope", QueryRef: 1})
	require.ErrorIs(t, err, ErrDatabaseNotFound)

	_, err = api.SubmitAndWait(&QueryRequest{Database: "main", QueryRef: 99})
	require.ErrorIs(t, err, ErrQueryNotFound)

	_, err = api.SubmitAndWait(&QueryRequest{
		Database: "main",
		QueryRef: 2,
		Params:   json.RawMessage(`{"wrong": 1}`),
	})
	require.ErrorIs(t, err, ErrInvalidParams)
}

func TestAPI_WaitTimeout(t *testing.T) {
	api, eng := newTestAPI(t)
	block := make(chan struct{})
	defer close(block)
	eng.setExecFn(func(query string, params []engine.TypedParameter) (*engine.Result, error) {
		<-block
		return &engine.Result{Success: true, DataJSON: "[]"}, nil
	})

	start := time.Now()
	_, err := api.SubmitAndWait(&QueryRequest{
		Database:       "main",
		QueryRef:       1,
		TimeoutSeconds: 1,
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second, "requested timeout caps the cached one")

	// the abandoned entry must not linger
	assert.Equal(t, 0, api.Manager().Pending().Len())
}

func TestAPI_EngineFailureIsResultNotError(t *testing.T) {
	api, eng := newTestAPI(t)
	eng.setExecFn(func(query string, params []engine.TypedParameter) (*engine.Result, error) {
		return nil, fmt.Errorf("connection reset")
	})

	resp, err := api.SubmitAndWait(&QueryRequest{Database: "main", QueryRef: 1})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "connection reset")
}

func TestAPI_QueryIDsUnique(t *testing.T) {
	api, _ := newTestAPI(t)
	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		id := api.generateQueryID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestAPI_BatchPreservesOrder(t *testing.T) {
	api, eng := newTestAPI(t)
	// later-submitted queries finish first
	eng.setExecFn(func(query string, params []engine.TypedParameter) (*engine.Result, error) {
		var delay time.Duration
		if len(params) > 0 {
			if id, ok := params[0].Value.(int64); ok {
				delay = time.Duration(10-id) * 5 * time.Millisecond
			}
		}
		time.Sleep(delay)
		var tag interface{} = "none"
		if len(params) > 0 {
			tag = params[0].Value
		}
		return &engine.Result{
			Success:  true,
			RowCount: 1,
			DataJSON: fmt.Sprintf(`[{"id":"%v"}]`, tag),
		}, nil
	})

	reqs := []*QueryRequest{
		{Database: "main", QueryRef: 2, Params: json.RawMessage(`{"id": 5}`)},
		{Database: "main", QueryRef: 2, Params: json.RawMessage(`{"id": 3}`)},
		{Database: "main", QueryRef: 2, Params: json.RawMessage(`{"id": 9}`)},
	}
	resp, err := api.SubmitAndWaitMany(reqs)
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.True(t, resp.Success)
	assert.Equal(t, "main", resp.Database)
	assert.JSONEq(t, `[{"id":"5"}]`, string(resp.Results[0].Data))
	assert.JSONEq(t, `[{"id":"3"}]`, string(resp.Results[1].Data))
	assert.JSONEq(t, `[{"id":"9"}]`, string(resp.Results[2].Data))
}

func TestAPI_BatchDeduplicatesIdenticalRequests(t *testing.T) {
	api, eng := newTestAPI(t)
	var mu sync.Mutex
	executed := 0
	eng.setExecFn(func(query string, params []engine.TypedParameter) (*engine.Result, error) {
		mu.Lock()
		executed++
		mu.Unlock()
		return &engine.Result{Success: true, DataJSON: "[]"}, nil
	})

	reqs := []*QueryRequest{
		{Database: "main", QueryRef: 1},
		{Database: "main", QueryRef: 1},
		{Database: "main", QueryRef: 2, Params: json.RawMessage(`{"id": 1}`)},
		{Database: "main", QueryRef: 1},
	}
	resp, err := api.SubmitAndWaitMany(reqs)
	require.NoError(t, err)
	require.Len(t, resp.Results, 4)
	assert.True(t, resp.Success)

	// duplicates share one execution and one query id
	mu.Lock()
	assert.Equal(t, 2, executed)
	mu.Unlock()
	assert.Equal(t, resp.Results[0].QueryID, resp.Results[1].QueryID)
	assert.Equal(t, resp.Results[0].QueryID, resp.Results[3].QueryID)
	assert.NotEqual(t, resp.Results[0].QueryID, resp.Results[2].QueryID)
}

func TestAPI_BatchDegradesPerItem(t *testing.T) {
	api, _ := newTestAPI(t)

	reqs := []*QueryRequest{
		{Database: "main", QueryRef: 1},
		{Database: "main", QueryRef: 99},
		{Database: "nope", QueryRef: 1},
	}
	resp, err := api.SubmitAndWaitMany(reqs)
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	assert.False(t, resp.Success, "any failed item fails the batch flag")
	assert.Empty(t, resp.Database, "mixed-database batch leaves the field unset")
	assert.Equal(t, 99, resp.Results[1].QueryRef)
	assert.True(t, resp.Results[0].Success)
	assert.False(t, resp.Results[1].Success)
	assert.Contains(t, resp.Results[1].Error, "query not found")
	assert.False(t, resp.Results[2].Success)
	assert.Contains(t, resp.Results[2].Error, "database not found")
}

func TestAPI_EmptyBatchRejected(t *testing.T) {
	api, _ := newTestAPI(t)
	_, err := api.SubmitAndWaitMany(nil)
	require.ErrorIs(t, err, ErrInvalidParams)
}
