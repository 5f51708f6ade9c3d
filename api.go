// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package conduit

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/conduitdb/conduit/dbqueue"
	"github.com/conduitdb/conduit/engine"
	"github.com/conduitdb/conduit/logger"
	"github.com/pkg/errors"
)

// defaultQueryTimeout applies when neither the request nor the cached
// query definition carries a timeout.
const defaultQueryTimeout = 30 * time.Second

// QueryRequest is one query submission: a database, a reference into
// that database's query table, optional parameters and an optional wait
// bound.
type QueryRequest struct {
	Database string          `json:"database"`
	QueryRef int             `json:"query_ref"`
	Params   json.RawMessage `json:"params,omitempty"`

	// TimeoutSeconds caps how long the caller waits. The effective wait
	// is the smaller of this and the cached query's own timeout.
	TimeoutSeconds int `json:"timeout,omitempty"`
}

// QueryResponse is the outcome of one query.
type QueryResponse struct {
	QueryID         string          `json:"query_id"`
	QueryRef        int             `json:"query_ref"`
	Success         bool            `json:"success"`
	RowCount        int             `json:"row_count"`
	ColumnCount     int             `json:"column_count"`
	Columns         []string        `json:"columns,omitempty"`
	Data            json.RawMessage `json:"data"`
	AffectedRows    int64           `json:"affected_rows"`
	Error           string          `json:"error,omitempty"`
	ExecutionTimeMS int64           `json:"execution_time_ms"`
}

// BatchResponse is the outcome of a multi-query submission. Results is
// positionally aligned with the request list; Success is the AND of
// every item's Success.
type BatchResponse struct {
	Success bool             `json:"success"`
	Results []*QueryResponse `json:"results"`

	// Database is set when every request in the batch named the same
	// database.
	Database             string `json:"database,omitempty"`
	TotalExecutionTimeMS int64  `json:"total_execution_time_ms"`
}

// API is the query dispatcher: it resolves requests against the query
// caches, binds parameters, routes jobs onto database queues and
// rendezvouses with the executing workers.
type API struct {
	manager           *dbqueue.Manager
	logger            logger.Logger
	collectiveTimeout time.Duration

	queryCounter uint64
}

// APIOptions configures an API.
type APIOptions struct {
	Manager           *dbqueue.Manager
	Logger            logger.Logger
	CollectiveTimeout time.Duration
}

// NewAPI creates a dispatcher over an already-populated manager.
func NewAPI(opts APIOptions) (*API, error) {
	if opts.Manager == nil {
		return nil, errors.New("manager required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger
	}
	if opts.CollectiveTimeout <= 0 {
		opts.CollectiveTimeout = DefaultCollectiveTimeout
	}
	return &API{
		manager:           opts.Manager,
		logger:            opts.Logger,
		collectiveTimeout: opts.CollectiveTimeout,
	}, nil
}

// Manager returns the dispatcher's queue manager.
func (a *API) Manager() *dbqueue.Manager { return a.manager }

// generateQueryID produces a process-unique query id. The counter makes
// ids unique within the process, the timestamp across restarts.
func (a *API) generateQueryID() string {
	n := atomic.AddUint64(&a.queryCounter, 1)
	return fmt.Sprintf("conduit_%d_%d", n, time.Now().UnixNano())
}

// resolve looks the request up against the manager and produces
// everything needed to submit it: the routed queue, the rewritten SQL
// with bound parameters, and the effective wait timeout.
func (a *API) resolve(req *QueryRequest) (*dbqueue.DatabaseQueue, string, []engine.TypedParameter, time.Duration, error) {
	db, ok := a.manager.GetDatabase(req.Database)
	if !ok {
		return nil, "", nil, 0, errors.WithMessagef(ErrDatabaseNotFound, "%q", req.Database)
	}
	entry := db.Cache().Lookup(req.QueryRef)
	if entry == nil {
		return nil, "", nil, 0, errors.WithMessagef(ErrQueryNotFound, "query_ref %d in database %q", req.QueryRef, req.Database)
	}

	sql, params, err := engine.ProcessParameters(req.Params, entry.SQLTemplate, db.EngineType())
	if err != nil {
		return nil, "", nil, 0, errors.WithMessage(ErrInvalidParams, err.Error())
	}

	queue, err := a.manager.SelectQueue(req.Database, entry.QueueType)
	if err != nil {
		return nil, "", nil, 0, errors.WithMessage(ErrDatabaseNotFound, err.Error())
	}

	timeout := time.Duration(entry.TimeoutSeconds) * time.Second
	if requested := time.Duration(req.TimeoutSeconds) * time.Second; requested > 0 && (timeout <= 0 || requested < timeout) {
		timeout = requested
	}
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return queue, sql, params, timeout, nil
}

// submit registers a pending entry and enqueues the job, unwinding the
// registration if the queue refuses it.
func (a *API) submit(queue *dbqueue.DatabaseQueue, queryID, sql string, params []engine.TypedParameter, timeout time.Duration) (*dbqueue.PendingQueryResult, error) {
	pending, err := a.manager.Pending().Register(queryID, timeout)
	if err != nil {
		return nil, errors.Wrap(err, "registering pending result")
	}
	job := &dbqueue.Job{
		QueryID:     queryID,
		SQL:         sql,
		Params:      params,
		SubmittedAt: time.Now(),
	}
	if err := queue.Submit(job); err != nil {
		a.manager.Pending().Remove(queryID)
		return nil, err
	}
	return pending, nil
}

// SubmitAndWait executes one query synchronously from the caller's point
// of view: submit, block until the worker signals or the timeout
// passes, and return the result. Engine-level failures come back as an
// unsuccessful QueryResponse, not an error; the error return covers
// dispatch failures only.
func (a *API) SubmitAndWait(req *QueryRequest) (*QueryResponse, error) {
	queue, sql, params, timeout, err := a.resolve(req)
	if err != nil {
		return nil, err
	}

	queryID := a.generateQueryID()
	pending, err := a.submit(queue, queryID, sql, params, timeout)
	if err != nil {
		return nil, err
	}
	defer a.manager.Pending().Remove(queryID)

	if err := pending.Wait(); err != nil {
		a.manager.Stats().RecordWaitTimeout()
		return nil, errors.WithMessagef(ErrTimeout, "query %s after %s", queryID, timeout)
	}
	return buildResponse(queryID, req.QueryRef, pending.Result()), nil
}

// batchKey identifies duplicate work inside one batch: identical
// database, query_ref and parameter document execute once and share the
// result.
func batchKey(req *QueryRequest) string {
	return fmt.Sprintf("%s\x00%d\x00%s", req.Database, req.QueryRef, string(req.Params))
}

// SubmitAndWaitMany executes a batch: deduplicate, submit everything,
// then wait once under a collective timeout. The response preserves the
// request order; a request that fails to dispatch becomes an
// unsuccessful item rather than failing its siblings.
func (a *API) SubmitAndWaitMany(reqs []*QueryRequest) (*BatchResponse, error) {
	if len(reqs) == 0 {
		return nil, errors.WithMessage(ErrInvalidParams, "empty batch")
	}
	start := time.Now()

	type batchItem struct {
		pending *dbqueue.PendingQueryResult
		errResp *QueryResponse
	}
	items := make([]*batchItem, len(reqs))
	byKey := make(map[string]*batchItem, len(reqs))
	unique := make([]*dbqueue.PendingQueryResult, 0, len(reqs))

	for i, req := range reqs {
		key := batchKey(req)
		if item, ok := byKey[key]; ok {
			items[i] = item
			continue
		}
		item := &batchItem{}
		queue, sql, params, timeout, err := a.resolve(req)
		if err == nil {
			var pending *dbqueue.PendingQueryResult
			pending, err = a.submit(queue, a.generateQueryID(), sql, params, timeout)
			item.pending = pending
		}
		if err != nil {
			a.logger.Debugf("batch item %d failed to dispatch: %v", i, err)
			item.errResp = &QueryResponse{
				QueryRef: req.QueryRef,
				Success:  false,
				Data:     json.RawMessage("[]"),
				Error:    err.Error(),
			}
		} else {
			unique = append(unique, item.pending)
		}
		byKey[key] = item
		items[i] = item
	}

	defer func() {
		for _, p := range unique {
			a.manager.Pending().Remove(p.QueryID())
		}
	}()

	if err := a.manager.Pending().WaitMultiple(unique, a.collectiveTimeout); err != nil {
		a.manager.Stats().RecordWaitTimeout()
	}

	resp := &BatchResponse{Success: true, Results: make([]*QueryResponse, len(reqs))}
	for i, item := range items {
		var r *QueryResponse
		switch {
		case item.errResp != nil:
			r = item.errResp
		case item.pending.Completed():
			r = buildResponse(item.pending.QueryID(), reqs[i].QueryRef, item.pending.Result())
		default:
			r = &QueryResponse{
				QueryID:  item.pending.QueryID(),
				QueryRef: reqs[i].QueryRef,
				Success:  false,
				Data:     json.RawMessage("[]"),
				Error:    ErrTimeout.Error(),
			}
		}
		if !r.Success {
			resp.Success = false
		}
		resp.Results[i] = r
	}
	resp.Database = commonDatabase(reqs)
	resp.TotalExecutionTimeMS = time.Since(start).Milliseconds()
	return resp, nil
}

// commonDatabase returns the batch's database name when every request
// targets the same one, "" otherwise.
func commonDatabase(reqs []*QueryRequest) string {
	name := reqs[0].Database
	for _, req := range reqs[1:] {
		if req.Database != name {
			return ""
		}
	}
	return name
}

// buildResponse maps an engine result onto the wire shape.
func buildResponse(queryID string, queryRef int, result *engine.Result) *QueryResponse {
	resp := &QueryResponse{
		QueryID:         queryID,
		QueryRef:        queryRef,
		Success:         result.Success,
		RowCount:        result.RowCount,
		ColumnCount:     result.ColumnCount,
		Columns:         result.Columns,
		AffectedRows:    result.AffectedRows,
		Error:           result.ErrorMessage,
		ExecutionTimeMS: result.ExecutionTimeMS,
	}
	if result.DataJSON != "" {
		resp.Data = json.RawMessage(result.DataJSON)
	} else {
		resp.Data = json.RawMessage("[]")
	}
	return resp
}
