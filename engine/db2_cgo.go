// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0

//go:build cgo

package engine

import (
	_ "github.com/alexbrainman/odbc" // DB2 via ODBC; driver requires cgo on unix
)
