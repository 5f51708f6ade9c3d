// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0

// Package engine abstracts the supported database engines behind a small
// capability set: connect, execute, ping, close. Concrete engines are all
// built on database/sql; they differ in driver, parameter marker style and
// which column types serialize as JSON numbers.
package engine

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Type identifies a database engine.
type Type int

const (
	TypePostgres Type = iota
	TypeMySQL
	TypeSQLite
	TypeDB2
)

func (t Type) String() string {
	switch t {
	case TypePostgres:
		return "postgresql"
	case TypeMySQL:
		return "mysql"
	case TypeSQLite:
		return "sqlite"
	case TypeDB2:
		return "db2"
	}
	return "unknown"
}

// ParseType maps a config engine name to a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "postgresql", "postgres":
		return TypePostgres, nil
	case "mysql":
		return TypeMySQL, nil
	case "sqlite", "sqlite3":
		return TypeSQLite, nil
	case "db2":
		return TypeDB2, nil
	}
	return 0, errors.Errorf("unknown engine type %q", s)
}

// Open opens an engine of the given type.
func Open(typ Type, dsn string) (Engine, error) {
	switch typ {
	case TypePostgres:
		return NewPostgres(dsn)
	case TypeMySQL:
		return NewMySQL(dsn)
	case TypeSQLite:
		return NewSQLite(dsn)
	case TypeDB2:
		return NewDB2(dsn)
	}
	return nil, errors.Errorf("unknown engine type %d", typ)
}

// placeholder returns the engine-native parameter marker for the i-th
// parameter (1-based). Postgres uses ordinals, everything else uses '?'.
func (t Type) placeholder(i int) string {
	if t == TypePostgres {
		return "$" + strconv.Itoa(i)
	}
	return "?"
}

// Result is the outcome of one executed query. Engine-level failures are
// carried inside the result (Success=false plus ErrorMessage) so they can
// flow through the normal pending-result completion path.
type Result struct {
	Success         bool     `json:"success"`
	RowCount        int      `json:"row_count"`
	ColumnCount     int      `json:"column_count"`
	Columns         []string `json:"columns,omitempty"`
	DataJSON        string   `json:"-"`
	AffectedRows    int64    `json:"affected_rows"`
	ErrorMessage    string   `json:"error,omitempty"`
	ExecutionTimeMS int64    `json:"execution_time_ms"`
}

// Failed builds a Result describing an execution failure.
func Failed(err error, elapsed time.Duration) *Result {
	return &Result{
		Success:         false,
		ErrorMessage:    err.Error(),
		ExecutionTimeMS: elapsed.Milliseconds(),
	}
}

// Engine is the execution surface a database queue drives.
type Engine interface {
	Type() Type
	// Execute runs sql with the given ordered parameters. SQL-level
	// failures are returned as an error; callers convert them into a
	// failed Result so batch requests degrade per item.
	Execute(ctx context.Context, query string, params []TypedParameter) (*Result, error)
	Ping(ctx context.Context) error
	Close() error
}

// sqlEngine is the shared database/sql implementation.
type sqlEngine struct {
	typ     Type
	db      *sql.DB
	numeric map[string]bool
}

func openEngine(typ Type, driver, dsn string, numeric map[string]bool) (*sqlEngine, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s connection", typ)
	}
	return &sqlEngine{typ: typ, db: db, numeric: numeric}, nil
}

func (e *sqlEngine) Type() Type { return e.typ }

func (e *sqlEngine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func (e *sqlEngine) Close() error {
	return e.db.Close()
}

// rowsReturning reports whether the statement produces a row set. Anything
// else goes through Exec and reports affected rows only.
func rowsReturning(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "WITH", "SHOW", "PRAGMA", "VALUES", "DESCRIBE", "EXPLAIN"} {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}

func (e *sqlEngine) Execute(ctx context.Context, query string, params []TypedParameter) (*Result, error) {
	start := time.Now()
	args := make([]interface{}, len(params))
	for i, p := range params {
		args[i] = p.driverValue()
	}

	if !rowsReturning(query) {
		res, err := e.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, errors.Wrap(err, "executing statement")
		}
		affected, err := res.RowsAffected()
		if err != nil {
			// some drivers can't report this; not a failure
			affected = 0
		}
		return &Result{
			Success:         true,
			DataJSON:        "[]",
			AffectedRows:    affected,
			ExecutionTimeMS: time.Since(start).Milliseconds(),
		}, nil
	}

	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "executing query")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "reading columns")
	}
	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, "reading column types")
	}
	numeric := make([]bool, len(colTypes))
	for i, ct := range colTypes {
		numeric[i] = e.numeric[strings.ToUpper(ct.DatabaseTypeName())]
	}

	var data [][]interface{}
	vals := make([]interface{}, len(columns))
	for i := range vals {
		vals[i] = new(interface{})
	}
	for rows.Next() {
		if err := rows.Scan(vals...); err != nil {
			return nil, errors.Wrap(err, "scanning row")
		}
		row := make([]interface{}, len(vals))
		for i := range vals {
			row[i] = *(vals[i].(*interface{}))
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterating rows")
	}

	dataJSON, err := encodeRows(columns, numeric, data)
	if err != nil {
		return nil, errors.Wrap(err, "encoding result rows")
	}

	return &Result{
		Success:         true,
		RowCount:        len(data),
		ColumnCount:     len(columns),
		Columns:         columns,
		DataJSON:        dataJSON,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
	}, nil
}
