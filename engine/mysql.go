// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package engine

import (
	_ "github.com/go-sql-driver/mysql" // mysql driver
)

var mysqlNumericTypes = map[string]bool{
	"TINYINT": true, "SMALLINT": true, "MEDIUMINT": true,
	"INT": true, "INTEGER": true, "BIGINT": true,
	"FLOAT": true, "DOUBLE": true, "DECIMAL": true,
	"UNSIGNED TINYINT": true, "UNSIGNED SMALLINT": true,
	"UNSIGNED INT": true, "UNSIGNED BIGINT": true,
	"YEAR": true, "BIT": true,
}

// NewMySQL opens a MySQL engine. The DSN follows the go-sql-driver
// format, e.g. "user:pass@tcp(host:3306)/dbname".
func NewMySQL(dsn string) (Engine, error) {
	return openEngine(TypeMySQL, "mysql", dsn, mysqlNumericTypes)
}
