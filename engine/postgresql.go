// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package engine

import (
	_ "github.com/lib/pq" // postgres driver
)

var postgresNumericTypes = map[string]bool{
	"INT2": true, "INT4": true, "INT8": true,
	"FLOAT4": true, "FLOAT8": true,
	"NUMERIC": true, "DECIMAL": true, "MONEY": true,
	"OID": true,
}

// NewPostgres opens a PostgreSQL engine. The DSN is a libpq-style
// connection string or a postgres:// URL.
func NewPostgres(dsn string) (Engine, error) {
	return openEngine(TypePostgres, "postgres", dsn, postgresNumericTypes)
}
