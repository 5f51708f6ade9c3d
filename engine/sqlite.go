// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package engine

import (
	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

var sqliteNumericTypes = map[string]bool{
	"INTEGER": true, "INT": true, "BIGINT": true,
	"REAL": true, "FLOAT": true, "DOUBLE": true,
	"NUMERIC": true, "DECIMAL": true, "BOOLEAN": true,
}

// NewSQLite opens a SQLite engine. The DSN is a file path or
// ":memory:".
func NewSQLite(dsn string) (Engine, error) {
	return openEngine(TypeSQLite, "sqlite3", dsn, sqliteNumericTypes)
}
