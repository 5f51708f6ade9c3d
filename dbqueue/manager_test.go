// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package dbqueue

import (
	"context"
	"testing"
	"time"

	"github.com/conduitdb/conduit/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queryTableRows() string {
	return `[
		{"ref": 1, "query": "SELECT * FROM users", "queue": "slow", "timeout": 30},
		{"ref": 2, "query": "SELECT * FROM users WHERE id = :id", "queue": "fast", "timeout": 5}
	]`
}

func newTestManager(t *testing.T) (*Manager, *stubEngine) {
	t.Helper()
	eng := newStubEngine(func(query string, params []engine.TypedParameter) (*engine.Result, error) {
		return okResult(queryTableRows()), nil
	})
	m := NewManager(ManagerOptions{
		MaxDatabases:      4,
		DrainTimeout:      time.Second,
		HeartbeatInterval: time.Hour, // keep housekeeping quiet during tests
	})
	_, err := m.AddDatabase(DatabaseOptions{
		Name:           "main",
		Engine:         eng,
		BootstrapQuery: "SELECT * FROM query_table",
		Queues: map[QueueType]QueueOptions{
			QueueSlow: {Workers: 1, Capacity: 4},
			QueueFast: {Workers: 2, Capacity: 4},
		},
	})
	require.NoError(t, err)
	return m, eng
}

func TestManager_AddDatabaseValidation(t *testing.T) {
	m := NewManager(ManagerOptions{MaxDatabases: 1})

	_, err := m.AddDatabase(DatabaseOptions{Engine: newStubEngine(nil)})
	require.Error(t, err)

	_, err = m.AddDatabase(DatabaseOptions{Name: "x"})
	require.Error(t, err)

	_, err = m.AddDatabase(DatabaseOptions{Name: "one", Engine: newStubEngine(nil)})
	require.NoError(t, err)

	_, err = m.AddDatabase(DatabaseOptions{Name: "one", Engine: newStubEngine(nil)})
	require.Error(t, err, "duplicate names rejected")

	_, err = m.AddDatabase(DatabaseOptions{Name: "two", Engine: newStubEngine(nil)})
	require.Error(t, err, "limit enforced")
}

func TestManager_LeadBootstrapsSharedCache(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	db, ok := m.GetDatabase("main")
	require.True(t, ok)
	require.True(t, db.Lead().IsLead())
	assert.True(t, db.Lead().BootstrapCompleted())
	assert.Equal(t, 2, db.Cache().Len())

	// sibling queues see the same cache
	assert.Equal(t, db.Cache(), db.Queue(QueueFast).Cache())
}

func TestManager_SelectQueueFallsBackToSlow(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	fast, err := m.SelectQueue("main", QueueFast)
	require.NoError(t, err)
	assert.Equal(t, QueueFast, fast.QueueType())

	// medium was never configured, so the slow queue serves it
	medium, err := m.SelectQueue("main", QueueMedium)
	require.NoError(t, err)
	assert.Equal(t, QueueSlow, medium.QueueType())

	_, err = m.SelectQueue("nope", QueueSlow)
	require.Error(t, err)
}

func TestManager_SlowQueueAlwaysRuns(t *testing.T) {
	m := NewManager(ManagerOptions{})
	db, err := m.AddDatabase(DatabaseOptions{
		Name:   "bare",
		Engine: newStubEngine(nil),
		Queues: map[QueueType]QueueOptions{
			QueueFast: {Workers: 2},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, db.Lead())
	assert.True(t, db.Lead().IsLead())
	assert.NotNil(t, db.Queue(QueueFast))
	assert.Nil(t, db.Queue(QueueMedium))
}

func TestManager_StopClosesEngines(t *testing.T) {
	m, eng := newTestManager(t)
	require.NoError(t, m.Start(context.Background()))
	m.Stop()

	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.True(t, eng.closed)

	db, _ := m.GetDatabase("main")
	assert.Equal(t, StateStopped, db.Lead().State())
}

func TestManager_AddAfterStartFails(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	_, err := m.AddDatabase(DatabaseOptions{Name: "late", Engine: newStubEngine(nil)})
	require.Error(t, err)
}
