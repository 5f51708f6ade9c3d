// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0

// Package server assembles a runnable conduit service from a Config:
// engines, queue manager, dispatcher, HTTP handler and listener.
package server

import (
	"context"
	"net/http"
	"os"
	"time"

	conduit "github.com/conduitdb/conduit"
	"github.com/conduitdb/conduit/authn"
	"github.com/conduitdb/conduit/dbqueue"
	"github.com/conduitdb/conduit/engine"
	"github.com/conduitdb/conduit/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// shutdownGrace bounds how long in-flight HTTP requests get to finish
// after queue draining completes.
const shutdownGrace = 5 * time.Second

// Command is a runnable conduit server instance.
type Command struct {
	Config *conduit.Config

	logger  logger.Logger
	manager *dbqueue.Manager
	api     *conduit.API
	httpSrv *http.Server

	// Done closes when the server has fully stopped.
	Done chan struct{}
}

// NewCommand creates a Command from a validated Config.
func NewCommand(cfg *conduit.Config) *Command {
	return &Command{
		Config: cfg,
		Done:   make(chan struct{}),
	}
}

// Logger returns the server's logger, building it on first use.
func (m *Command) Logger() logger.Logger {
	if m.logger == nil {
		if m.Config.Verbose {
			m.logger = logger.NewVerboseLogger(os.Stderr)
		} else {
			m.logger = logger.NewStandardLogger(os.Stderr)
		}
	}
	return m.logger
}

// API returns the dispatcher, available after SetupServer.
func (m *Command) API() *conduit.API { return m.api }

// SetupServer builds everything up to (but not including) the listener:
// engines, queues, dispatcher and HTTP handler.
func (m *Command) SetupServer() error {
	if err := m.Config.Validate(); err != nil {
		return errors.Wrap(err, "validating config")
	}
	log := m.Logger()

	m.manager = dbqueue.NewManager(dbqueue.ManagerOptions{
		Logger:            log,
		Registerer:        prometheus.DefaultRegisterer,
		MaxDatabases:      m.Config.MaxDatabases,
		DrainTimeout:      time.Duration(m.Config.DrainTimeout),
		HeartbeatInterval: time.Duration(m.Config.HeartbeatInterval),
	})

	for _, dbCfg := range m.Config.Databases {
		typ, err := engine.ParseType(dbCfg.Engine)
		if err != nil {
			return errors.Wrapf(err, "database %s", dbCfg.Name)
		}
		eng, err := engine.Open(typ, dbCfg.DSN)
		if err != nil {
			return errors.Wrapf(err, "opening database %s", dbCfg.Name)
		}
		if _, err := m.manager.AddDatabase(dbqueue.DatabaseOptions{
			Name:           dbCfg.Name,
			Engine:         eng,
			BootstrapQuery: dbCfg.BootstrapQuery,
			Queues:         queueOptions(dbCfg.Queues),
		}); err != nil {
			return errors.Wrapf(err, "adding database %s", dbCfg.Name)
		}
	}

	api, err := conduit.NewAPI(conduit.APIOptions{
		Manager:           m.manager,
		Logger:            log,
		CollectiveTimeout: time.Duration(m.Config.CollectiveTimeout),
	})
	if err != nil {
		return errors.Wrap(err, "creating api")
	}
	m.api = api

	var validator *authn.Validator
	if m.Config.Auth.Enable {
		validator, err = authn.NewValidator(m.Config.Auth.Secret, m.Config.Auth.Issuer)
		if err != nil {
			return errors.Wrap(err, "creating token validator")
		}
	}

	handlerOpts := conduit.HandlerOptions{
		API:       api,
		Logger:    log,
		Validator: validator,
	}
	if m.Config.Verbose {
		handlerOpts.AccessLog = os.Stderr
	}
	handler, err := conduit.NewHandler(handlerOpts)
	if err != nil {
		return errors.Wrap(err, "creating handler")
	}

	m.httpSrv = &http.Server{
		Addr:    m.Config.Bind,
		Handler: handler,
	}
	return nil
}

// queueOptions converts config sizing into queue options, dropping
// unconfigured classes.
func queueOptions(q conduit.QueuesConfig) map[dbqueue.QueueType]dbqueue.QueueOptions {
	opts := make(map[dbqueue.QueueType]dbqueue.QueueOptions)
	for qt, qc := range map[dbqueue.QueueType]conduit.QueueConfig{
		dbqueue.QueueSlow:   q.Slow,
		dbqueue.QueueMedium: q.Medium,
		dbqueue.QueueFast:   q.Fast,
		dbqueue.QueueCache:  q.Cache,
	} {
		if qc.Workers <= 0 && qt != dbqueue.QueueSlow {
			continue
		}
		capacity := qc.Capacity
		if capacity <= 0 {
			capacity = conduit.DefaultQueueCapacity
		}
		opts[qt] = dbqueue.QueueOptions{Workers: qc.Workers, Capacity: capacity}
	}
	return opts
}

// Run sets the server up, starts the queues and begins serving HTTP.
// It returns once the listener is up; Close shuts everything down.
func (m *Command) Run() error {
	if m.httpSrv == nil {
		if err := m.SetupServer(); err != nil {
			return err
		}
	}
	log := m.Logger()

	if err := m.manager.Start(context.Background()); err != nil {
		return errors.Wrap(err, "starting queue manager")
	}

	log.Infof("conduit %s listening on %s", conduit.Version, m.Config.Bind)
	go func() {
		if err := m.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server: %v", err)
		}
	}()
	return nil
}

// Close shuts the server down: stop accepting requests, drain the
// queues, close the engines.
func (m *Command) Close() error {
	defer close(m.Done)
	var errs []error

	if m.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		if err := m.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, errors.Wrap(err, "shutting down http server"))
		}
		cancel()
	}
	if m.manager != nil {
		m.manager.Stop()
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
