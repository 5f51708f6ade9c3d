// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package conduit

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/conduitdb/conduit/authn"
	"github.com/conduitdb/conduit/dbqueue"
	"github.com/conduitdb/conduit/logger"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler is the HTTP transport over the query dispatcher.
type Handler struct {
	api       *API
	logger    logger.Logger
	validator *authn.Validator
	accessLog io.Writer

	router http.Handler
}

// HandlerOptions configures a Handler. Validator may be nil, which
// disables the auth and alt endpoint groups. AccessLog, when set,
// receives an Apache combined-format line per request.
type HandlerOptions struct {
	API       *API
	Logger    logger.Logger
	Validator *authn.Validator
	AccessLog io.Writer
}

// NewHandler creates the HTTP handler and its routes.
func NewHandler(opts HandlerOptions) (*Handler, error) {
	if opts.API == nil {
		return nil, errors.New("api required")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger
	}
	h := &Handler{
		api:       opts.API,
		logger:    opts.Logger,
		validator: opts.Validator,
		accessLog: opts.AccessLog,
	}
	h.router = h.newRouter()
	return h, nil
}

// ServeHTTP handles an HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) newRouter() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.handleGetHealth).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/conduit/query", h.handleQuery).Methods("GET", "POST")
	router.HandleFunc("/conduit/queries", h.handleQueries).Methods("POST")

	if h.validator != nil {
		router.HandleFunc("/conduit/auth/query", h.requireAuth(h.handleAuthQuery, false)).Methods("GET", "POST")
		router.HandleFunc("/conduit/auth/queries", h.requireAuth(h.handleAuthQueries, false)).Methods("POST")
		router.HandleFunc("/conduit/alt/query", h.requireAuth(h.handleAuthQuery, true)).Methods("GET", "POST")
		router.HandleFunc("/conduit/alt/queries", h.requireAuth(h.handleAuthQueries, true)).Methods("POST")
	}

	var handler http.Handler = router
	handler = handlers.RecoveryHandler(handlers.RecoveryLogger(recoveryLogger{h.logger}))(handler)
	if h.accessLog != nil {
		handler = handlers.CombinedLoggingHandler(h.accessLog, handler)
	}
	handler = h.requestID(handler)
	return handler
}

// recoveryLogger adapts our logger to gorilla's recovery middleware.
type recoveryLogger struct{ log logger.Logger }

func (r recoveryLogger) Println(v ...interface{}) {
	r.log.Errorf("panic serving request: %v", v)
}

// requestID tags each request with an id for log correlation.
func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		h.logger.Debugf("request %s %s %s", rid, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	type queueStatus struct {
		Queue string `json:"queue"`
		State string `json:"state"`
		Depth int    `json:"depth"`
		// set on the lead queue only; false must survive encoding so
		// an incomplete bootstrap stays visible
		BootstrapCompleted *bool `json:"bootstrap_completed,omitempty"`
		CachedQueries      int   `json:"cached_queries,omitempty"`
	}
	type dbStatus struct {
		Engine string        `json:"engine"`
		Queues []queueStatus `json:"queues"`
	}

	mgr := h.api.Manager()
	status := make(map[string]dbStatus)
	for _, name := range mgr.DatabaseNames() {
		db, ok := mgr.GetDatabase(name)
		if !ok {
			continue
		}
		ds := dbStatus{Engine: db.EngineType().String()}
		for _, qt := range dbqueue.QueueTypes() {
			q := db.Queue(qt)
			if q == nil {
				continue
			}
			qs := queueStatus{
				Queue: qt.String(),
				State: q.State().String(),
				Depth: q.Depth(),
			}
			if q.IsLead() {
				completed := q.BootstrapCompleted()
				qs.BootstrapCompleted = &completed
				qs.CachedQueries = db.Cache().Len()
			}
			ds.Queues = append(ds.Queues, qs)
		}
		status[name] = ds
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":   Version,
		"pending":   mgr.Pending().Len(),
		"databases": status,
	})
}

// parseQueryRequest accepts a JSON body on POST or query parameters on
// GET: database, query_ref, params (a JSON document), timeout.
func parseQueryRequest(r *http.Request) (*QueryRequest, error) {
	if r.Method == "POST" {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, errors.Wrap(err, "reading request body")
		}
		req := &QueryRequest{}
		if err := json.Unmarshal(body, req); err != nil {
			return nil, errors.Wrap(err, "unmarshaling request")
		}
		return req, nil
	}

	q := r.URL.Query()
	ref, err := strconv.Atoi(q.Get("query_ref"))
	if err != nil {
		return nil, errors.New("query_ref must be an integer")
	}
	req := &QueryRequest{
		Database: q.Get("database"),
		QueryRef: ref,
	}
	if p := q.Get("params"); p != "" {
		req.Params = json.RawMessage(p)
	}
	if t := q.Get("timeout"); t != "" {
		secs, err := strconv.Atoi(t)
		if err != nil {
			return nil, errors.New("timeout must be an integer number of seconds")
		}
		req.TimeoutSeconds = secs
	}
	return req, nil
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := parseQueryRequest(r)
	if err != nil {
		h.writeError(w, errors.WithMessage(ErrInvalidParams, err.Error()))
		return
	}
	h.runQuery(w, req)
}

func (h *Handler) handleQueries(w http.ResponseWriter, r *http.Request) {
	reqs, err := parseBatchRequest(r)
	if err != nil {
		h.writeError(w, errors.WithMessage(ErrInvalidParams, err.Error()))
		return
	}
	h.runQueries(w, reqs)
}

func parseBatchRequest(r *http.Request) ([]*QueryRequest, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading request body")
	}
	var payload struct {
		Queries []*QueryRequest `json:"queries"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, "unmarshaling request")
	}
	if len(payload.Queries) == 0 {
		return nil, errors.New("queries list is empty")
	}
	return payload.Queries, nil
}

func (h *Handler) runQuery(w http.ResponseWriter, req *QueryRequest) {
	resp, err := h.api.SubmitAndWait(req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	code := http.StatusOK
	if !resp.Success {
		code = http.StatusInternalServerError
	}
	h.writeJSON(w, code, resp)
}

func (h *Handler) runQueries(w http.ResponseWriter, reqs []*QueryRequest) {
	resp, err := h.api.SubmitAndWaitMany(reqs)
	if err != nil {
		h.writeError(w, err)
		return
	}
	// batch failures report per item; the envelope stays 200
	h.writeJSON(w, http.StatusOK, resp)
}

// extractToken pulls the bearer token from the Authorization header or
// the token query parameter.
func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

type authedHandler func(w http.ResponseWriter, r *http.Request, token *authn.TokenInfo, allowOverride bool)

// requireAuth validates the bearer token before invoking next. When
// allowOverride is false the request is pinned to the token's database
// claim; when true the request may name another database.
func (h *Handler) requireAuth(next authedHandler, allowOverride bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			http.Error(w, "bearer token required", http.StatusUnauthorized)
			return
		}
		info, err := h.validator.ValidateToken(token, "")
		if err != nil {
			h.logger.Debugf("rejected token: %v", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r, info, allowOverride)
	}
}

func (h *Handler) handleAuthQuery(w http.ResponseWriter, r *http.Request, token *authn.TokenInfo, allowOverride bool) {
	req, err := parseQueryRequest(r)
	if err != nil {
		h.writeError(w, errors.WithMessage(ErrInvalidParams, err.Error()))
		return
	}
	if !allowOverride || req.Database == "" {
		req.Database = token.Database
	}
	h.runQuery(w, req)
}

func (h *Handler) handleAuthQueries(w http.ResponseWriter, r *http.Request, token *authn.TokenInfo, allowOverride bool) {
	reqs, err := parseBatchRequest(r)
	if err != nil {
		h.writeError(w, errors.WithMessage(ErrInvalidParams, err.Error()))
		return
	}
	for _, req := range reqs {
		if !allowOverride || req.Database == "" {
			req.Database = token.Database
		}
	}
	h.runQueries(w, reqs)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorf("writing response: %v", err)
	}
}

// writeError maps dispatch errors onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInvalidParams):
		code = http.StatusBadRequest
	case errors.Is(err, ErrDatabaseNotFound), errors.Is(err, ErrQueryNotFound):
		code = http.StatusNotFound
	case errors.Is(err, ErrTimeout):
		code = http.StatusRequestTimeout
	case errors.Is(err, dbqueue.ErrQueueFull), errors.Is(err, dbqueue.ErrQueueNotReady):
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, map[string]string{"error": err.Error()})
}
