// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package dbqueue

import (
	"context"
	"sync"
	"time"

	"github.com/conduitdb/conduit/engine"
	"github.com/conduitdb/conduit/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// DatabaseOptions configures one managed database.
type DatabaseOptions struct {
	Name           string
	Engine         engine.Engine
	BootstrapQuery string

	// Queues sizes each speed class. A class absent from the map (or
	// sized at zero workers) is not started; the slow class is always
	// started because it is the routing fallback.
	Queues map[QueueType]QueueOptions
}

// Database groups one database's engine, shared query cache and
// per-speed-class queues. The slow queue is the lead queue.
type Database struct {
	name   string
	eng    engine.Engine
	cache  *QueryTableCache
	queues map[QueueType]*DatabaseQueue
}

// Name returns the database's configured name.
func (d *Database) Name() string { return d.name }

// EngineType returns the database's engine type.
func (d *Database) EngineType() engine.Type { return d.eng.Type() }

// Cache returns the database's query table cache.
func (d *Database) Cache() *QueryTableCache { return d.cache }

// Lead returns the database's lead queue.
func (d *Database) Lead() *DatabaseQueue { return d.queues[QueueSlow] }

// Queue returns the queue for a speed class, or nil if the class isn't
// configured.
func (d *Database) Queue(qt QueueType) *DatabaseQueue { return d.queues[qt] }

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Logger            logger.Logger
	Registerer        prometheus.Registerer
	MaxDatabases      int
	DrainTimeout      time.Duration
	HeartbeatInterval time.Duration
}

// Manager coordinates every database's queues, owns the process-wide
// pending-result registry, and runs the housekeeping loop (connection
// heartbeats plus pending-result expiry sweeps).
type Manager struct {
	logger            logger.Logger
	pending           *PendingResultManager
	stats             *Stats
	maxDatabases      int
	drainTimeout      time.Duration
	heartbeatInterval time.Duration

	mu        sync.Mutex
	databases map[string]*Database
	started   bool

	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

// NewManager creates a Manager; databases are added before Start.
func NewManager(opts ManagerOptions) *Manager {
	log := opts.Logger
	if log == nil {
		log = logger.NopLogger
	}
	if opts.MaxDatabases <= 0 {
		opts.MaxDatabases = 16
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 5 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	return &Manager{
		logger:            log,
		pending:           NewPendingResultManager("DATABASE", log),
		stats:             NewStats(opts.Registerer),
		maxDatabases:      opts.MaxDatabases,
		drainTimeout:      opts.DrainTimeout,
		heartbeatInterval: opts.HeartbeatInterval,
		databases:         make(map[string]*Database),
		stop:              make(chan struct{}),
	}
}

// Pending returns the process-wide pending-result registry.
func (m *Manager) Pending() *PendingResultManager { return m.pending }

// Stats returns the manager-wide counters.
func (m *Manager) Stats() *Stats { return m.stats }

// AddDatabase registers a database and builds its queues. Must be called
// before Start.
func (m *Manager) AddDatabase(opts DatabaseOptions) (*Database, error) {
	if opts.Name == "" {
		return nil, errors.New("database name required")
	}
	if opts.Engine == nil {
		return nil, errors.Errorf("database %s: engine required", opts.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil, errors.New("cannot add databases after start")
	}
	if _, ok := m.databases[opts.Name]; ok {
		return nil, errors.Errorf("database %s already registered", opts.Name)
	}
	if len(m.databases) >= m.maxDatabases {
		return nil, errors.Errorf("database limit %d reached", m.maxDatabases)
	}

	cache := NewQueryTableCache("DATABASE:" + opts.Name)
	db := &Database{
		name:   opts.Name,
		eng:    opts.Engine,
		cache:  cache,
		queues: make(map[QueueType]*DatabaseQueue),
	}

	for _, qt := range queueTypes {
		qopts, ok := opts.Queues[qt]
		if qt == QueueSlow {
			// the slow queue always runs: it is the lead queue and
			// the fallback target for unconfigured classes
			if qopts.Workers <= 0 {
				qopts.Workers = 1
			}
		} else if !ok || qopts.Workers <= 0 {
			continue
		}
		queue := newDatabaseQueue(opts.Name, qt, opts.Engine, m.pending, cache, qopts, m.logger, m.stats)
		if qt == QueueSlow {
			queue.isLead = true
			queue.bootstrapQuery = opts.BootstrapQuery
		}
		db.queues[qt] = queue
	}

	m.databases[opts.Name] = db
	return db, nil
}

// GetDatabase resolves a database by name.
func (m *Manager) GetDatabase(name string) (*Database, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	db, ok := m.databases[name]
	return db, ok
}

// DatabaseNames returns the registered database names.
func (m *Manager) DatabaseNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.databases))
	for name := range m.databases {
		names = append(names, name)
	}
	return names
}

// SelectQueue resolves the concrete queue for a speed class, falling
// back to the slow queue when the class isn't configured for that
// database. Availability beats routing precision.
func (m *Manager) SelectQueue(database string, qt QueueType) (*DatabaseQueue, error) {
	db, ok := m.GetDatabase(database)
	if !ok {
		return nil, errors.Errorf("database %s not found", database)
	}
	if queue := db.queues[qt]; queue != nil && queue.State() == StateReady {
		return queue, nil
	}
	lead := db.Lead()
	if lead == nil {
		return nil, errors.Errorf("database %s has no queues", database)
	}
	return lead, nil
}

// Start connects every queue (lead queues bootstrap on the way up) and
// launches the housekeeping loop. A database that cannot connect is
// reported and left behind in Connecting; it does not fail the start.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New("manager already started")
	}
	m.started = true
	databases := make([]*Database, 0, len(m.databases))
	for _, db := range m.databases {
		databases = append(databases, db)
	}
	m.mu.Unlock()

	for _, db := range databases {
		// lead first so the cache is populated before siblings serve
		if lead := db.Lead(); lead != nil {
			if err := lead.Start(ctx); err != nil {
				m.logger.Errorf("database %s unavailable: %v", db.name, err)
				continue
			}
		}
		for qt, queue := range db.queues {
			if qt == QueueSlow {
				continue
			}
			if err := queue.Start(ctx); err != nil {
				m.logger.Errorf("database %s %s queue unavailable: %v", db.name, qt, err)
			}
		}
	}

	m.done.Add(1)
	go m.housekeeping()
	return nil
}

// housekeeping periodically pings queue connections and sweeps expired
// pending results.
func (m *Manager) housekeeping() {
	defer m.done.Done()
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.heartbeatInterval/2)
			m.mu.Lock()
			databases := make([]*Database, 0, len(m.databases))
			for _, db := range m.databases {
				databases = append(databases, db)
			}
			m.mu.Unlock()
			for _, db := range databases {
				for _, queue := range db.queues {
					queue.heartbeat(ctx)
				}
			}
			cancel()
			m.pending.CleanupExpired()
		}
	}
}

// Stop drains every queue, stops housekeeping and closes the engines.
// Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stop)
	})
	m.done.Wait()

	m.mu.Lock()
	databases := make([]*Database, 0, len(m.databases))
	for _, db := range m.databases {
		databases = append(databases, db)
	}
	m.mu.Unlock()

	for _, db := range databases {
		for _, queue := range db.queues {
			queue.Stop(m.drainTimeout)
		}
		if err := db.eng.Close(); err != nil {
			m.logger.Warnf("closing %s engine: %v", db.name, err)
		}
	}
	m.pending.CleanupExpired()
}
