// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package engine

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// encodeRows serializes a scanned row set as a JSON array of row objects.
// Columns the engine reports as numeric are emitted as unquoted JSON
// numbers; everything else is emitted as a quoted, escaped string. NULL is
// always the JSON literal null. The numeric rule is an explicit per-column
// branch, never inferred from the value's textual content.
func encodeRows(columns []string, numeric []bool, rows [][]interface{}) (string, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for ri, row := range rows {
		if ri > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for ci, col := range columns {
			if ci > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(col)
			if err != nil {
				return "", err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := encodeValue(&buf, row[ci], numeric[ci]); err != nil {
				return "", err
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return buf.String(), nil
}

func encodeValue(buf *bytes.Buffer, v interface{}, numeric bool) error {
	if v == nil {
		buf.WriteString("null")
		return nil
	}
	switch val := v.(type) {
	case int64:
		return writeScalar(buf, strconv.FormatInt(val, 10), numeric)
	case float64:
		return writeScalar(buf, strconv.FormatFloat(val, 'g', -1, 64), numeric)
	case bool:
		return writeQuoted(buf, strconv.FormatBool(val))
	case time.Time:
		return writeQuoted(buf, val.Format(time.RFC3339Nano))
	case []byte:
		return writeScalar(buf, string(val), numeric)
	case string:
		return writeScalar(buf, val, numeric)
	}
	// fallback for driver-specific types
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

// writeScalar emits s unquoted when the column is numeric and s parses as
// a number; drivers commonly hand numerics back as text.
func writeScalar(buf *bytes.Buffer, s string, numeric bool) error {
	if numeric {
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			buf.WriteString(s)
			return nil
		}
	}
	return writeQuoted(buf, s)
}

func writeQuoted(buf *bytes.Buffer, s string) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
