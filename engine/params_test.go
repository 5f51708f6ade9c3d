// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessParameters_NamedPostgres(t *testing.T) {
	sql, params, err := ProcessParameters(
		json.RawMessage(`{"id": 7, "name": "alice"}`),
		"SELECT * FROM users WHERE id = :id AND name = :name",
		TypePostgres,
	)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE id = $1 AND name = $2", sql)
	require.Len(t, params, 2)
	assert.Equal(t, TypedParameter{Name: "id", Type: ParamInteger, Value: int64(7)}, params[0])
	assert.Equal(t, TypedParameter{Name: "name", Type: ParamText, Value: "alice"}, params[1])
}

func TestProcessParameters_NamedQuestionMarkEngines(t *testing.T) {
	for _, typ := range []Type{TypeMySQL, TypeSQLite, TypeDB2} {
		sql, params, err := ProcessParameters(
			json.RawMessage(`{"id": 7}`),
			"SELECT * FROM users WHERE id = :id",
			typ,
		)
		require.NoError(t, err, typ)
		assert.Equal(t, "SELECT * FROM users WHERE id = ?", sql, typ)
		require.Len(t, params, 1)
	}
}

func TestProcessParameters_RepeatedNameBindsPerOccurrence(t *testing.T) {
	sql, params, err := ProcessParameters(
		json.RawMessage(`{"v": 1}`),
		"SELECT :v + :v",
		TypePostgres,
	)
	require.NoError(t, err)
	assert.Equal(t, "SELECT $1 + $2", sql)
	require.Len(t, params, 2)
	assert.Equal(t, params[0], params[1])
}

func TestProcessParameters_LeavesTypeCastsAlone(t *testing.T) {
	sql, params, err := ProcessParameters(
		json.RawMessage(`{"id": 7}`),
		"SELECT total::int FROM orders WHERE id = :id",
		TypePostgres,
	)
	require.NoError(t, err)
	assert.Equal(t, "SELECT total::int FROM orders WHERE id = $1", sql)
	require.Len(t, params, 1)
	assert.Equal(t, "id", params[0].Name)

	// a template that is all casts needs no parameters
	sql, params, err = ProcessParameters(
		nil,
		"SELECT created_at::date, amount::numeric FROM orders",
		TypePostgres,
	)
	require.NoError(t, err)
	assert.Equal(t, "SELECT created_at::date, amount::numeric FROM orders", sql)
	assert.Empty(t, params)
}

func TestProcessParameters_Positional(t *testing.T) {
	sql, params, err := ProcessParameters(
		json.RawMessage(`[7, "alice", 2.5, true, null]`),
		"INSERT INTO t VALUES (:a, :b, :c, :d, :e)",
		TypeMySQL,
	)
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO t VALUES (?, ?, ?, ?, ?)", sql)
	require.Len(t, params, 5)
	assert.Equal(t, ParamInteger, params[0].Type)
	assert.Equal(t, ParamText, params[1].Type)
	assert.Equal(t, ParamReal, params[2].Type)
	assert.Equal(t, ParamBoolean, params[3].Type)
	assert.Equal(t, ParamNull, params[4].Type)
}

func TestProcessParameters_Deterministic(t *testing.T) {
	// repeated runs over the same inputs produce identical output even
	// though JSON object keys decode in map order
	first, firstParams, err := ProcessParameters(
		json.RawMessage(`{"a": 1, "b": 2, "c": 3}`),
		"SELECT :c, :a, :b",
		TypePostgres,
	)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		sql, params, err := ProcessParameters(
			json.RawMessage(`{"a": 1, "b": 2, "c": 3}`),
			"SELECT :c, :a, :b",
			TypePostgres,
		)
		require.NoError(t, err)
		require.Equal(t, first, sql)
		require.Equal(t, firstParams, params)
	}
	// parameters follow placeholder order, not key order
	assert.Equal(t, "c", firstParams[0].Name)
	assert.Equal(t, "a", firstParams[1].Name)
	assert.Equal(t, "b", firstParams[2].Name)
}

func TestProcessParameters_NoParams(t *testing.T) {
	sql, params, err := ProcessParameters(nil, "SELECT 1", TypePostgres)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", sql)
	assert.Empty(t, params)

	sql, params, err = ProcessParameters(json.RawMessage(`null`), "SELECT 1", TypeMySQL)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", sql)
	assert.Empty(t, params)
}

func TestProcessParameters_FailClosed(t *testing.T) {
	// placeholder without a supplied parameter
	_, _, err := ProcessParameters(
		json.RawMessage(`{"id": 1}`),
		"SELECT * FROM t WHERE id = :id AND name = :name",
		TypePostgres,
	)
	require.Error(t, err)

	// supplied parameter without a placeholder
	_, _, err = ProcessParameters(
		json.RawMessage(`{"id": 1, "extra": 2}`),
		"SELECT * FROM t WHERE id = :id",
		TypePostgres,
	)
	require.Error(t, err)

	// placeholders but no parameters at all
	_, _, err = ProcessParameters(nil, "SELECT * FROM t WHERE id = :id", TypePostgres)
	require.Error(t, err)

	// positional count mismatch, both directions
	_, _, err = ProcessParameters(json.RawMessage(`[1]`), "SELECT :a, :b", TypeMySQL)
	require.Error(t, err)
	_, _, err = ProcessParameters(json.RawMessage(`[1, 2, 3]`), "SELECT :a, :b", TypeMySQL)
	require.Error(t, err)
}

func TestProcessParameters_RejectsUnsupportedValues(t *testing.T) {
	_, _, err := ProcessParameters(
		json.RawMessage(`{"v": [1, 2]}`),
		"SELECT :v",
		TypePostgres,
	)
	require.Error(t, err)

	_, _, err = ProcessParameters(
		json.RawMessage(`{"v": {"nested": true}}`),
		"SELECT :v",
		TypePostgres,
	)
	require.Error(t, err)

	_, _, err = ProcessParameters(json.RawMessage(`"scalar"`), "SELECT 1", TypePostgres)
	require.Error(t, err)
}

func TestProcessParameters_NumberClassification(t *testing.T) {
	_, params, err := ProcessParameters(
		json.RawMessage(`[1, 1.0, 1e3, -7]`),
		"SELECT :a, :b, :c, :d",
		TypeMySQL,
	)
	require.NoError(t, err)
	assert.Equal(t, ParamInteger, params[0].Type)
	assert.Equal(t, ParamReal, params[1].Type)
	assert.Equal(t, ParamReal, params[2].Type)
	assert.Equal(t, ParamInteger, params[3].Type)
	assert.Equal(t, int64(-7), params[3].Value)
}
