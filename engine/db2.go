// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package engine

var db2NumericTypes = map[string]bool{
	"SMALLINT": true, "INTEGER": true, "BIGINT": true,
	"REAL": true, "DOUBLE": true, "FLOAT": true,
	"DECIMAL": true, "NUMERIC": true, "DECFLOAT": true,
}

// NewDB2 opens a DB2 engine through the ODBC driver. The DSN is an ODBC
// connection string, e.g. "DSN=SAMPLE;UID=db2inst1;PWD=secret".
func NewDB2(dsn string) (Engine, error) {
	return openEngine(TypeDB2, "odbc", dsn, db2NumericTypes)
}
