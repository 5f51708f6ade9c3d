// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package conduit

import (
	"os"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

const (
	// DefaultBind is the default address the HTTP handler listens on.
	DefaultBind = ":8420"

	// DefaultQueueCapacity is the per-queue job backlog when the config
	// doesn't say otherwise.
	DefaultQueueCapacity = 256

	// DefaultCollectiveTimeout bounds batch waits.
	DefaultCollectiveTimeout = 30 * time.Second

	// DefaultDrainTimeout bounds how long a stopping queue keeps working
	// through its backlog.
	DefaultDrainTimeout = 5 * time.Second

	// DefaultHeartbeatInterval drives connection checks and the
	// pending-result expiry sweep.
	DefaultHeartbeatInterval = 30 * time.Second
)

// Duration is a TOML-friendly wrapper for time.Duration.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// QueueConfig sizes one speed class for a database.
type QueueConfig struct {
	Workers  int `toml:"workers"`
	Capacity int `toml:"capacity"`
}

// QueuesConfig holds the per-speed-class sizing. A class with zero
// workers is not started; the slow class always gets at least one worker
// because it is the documented fallback.
type QueuesConfig struct {
	Slow   QueueConfig `toml:"slow"`
	Medium QueueConfig `toml:"medium"`
	Fast   QueueConfig `toml:"fast"`
	Cache  QueueConfig `toml:"cache"`
}

// DatabaseConfig describes one managed database.
type DatabaseConfig struct {
	Name           string       `toml:"name"`
	Engine         string       `toml:"engine"` // postgresql, mysql, sqlite, db2
	DSN            string       `toml:"dsn"`
	BootstrapQuery string       `toml:"bootstrap-query"`
	Queues         QueuesConfig `toml:"queues"`
}

// AuthConfig configures JWT validation for the auth/alt endpoints.
type AuthConfig struct {
	Enable bool   `toml:"enable"`
	Secret string `toml:"secret"`
	Issuer string `toml:"issuer"`
}

// Config represents the configuration for the conduit server.
type Config struct {
	Bind    string `toml:"bind"`
	Verbose bool   `toml:"verbose"`

	// MaxDatabases caps the queue manager's registry.
	MaxDatabases int `toml:"max-databases"`

	CollectiveTimeout Duration `toml:"collective-timeout"`
	DrainTimeout      Duration `toml:"drain-timeout"`
	HeartbeatInterval Duration `toml:"heartbeat-interval"`

	Auth      AuthConfig       `toml:"auth"`
	Databases []DatabaseConfig `toml:"databases"`
}

// NewConfig returns an instance of Config with default options.
func NewConfig() *Config {
	return &Config{
		Bind:              DefaultBind,
		MaxDatabases:      16,
		CollectiveTimeout: Duration(DefaultCollectiveTimeout),
		DrainTimeout:      Duration(DefaultDrainTimeout),
		HeartbeatInterval: Duration(DefaultHeartbeatInterval),
	}
}

// LoadConfig reads a TOML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	c := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the config for inconsistencies a server couldn't start
// with.
func (c *Config) Validate() error {
	if c.Bind == "" {
		return errors.New("bind address required")
	}
	if len(c.Databases) == 0 {
		return errors.New("at least one database must be configured")
	}
	seen := make(map[string]struct{}, len(c.Databases))
	for i := range c.Databases {
		db := &c.Databases[i]
		if db.Name == "" {
			return errors.Errorf("database %d: name required", i)
		}
		if _, ok := seen[db.Name]; ok {
			return errors.Errorf("database %q configured twice", db.Name)
		}
		seen[db.Name] = struct{}{}
		switch db.Engine {
		case "postgresql", "mysql", "sqlite", "db2":
		default:
			return errors.Errorf("database %q: unknown engine %q", db.Name, db.Engine)
		}
		if db.DSN == "" {
			return errors.Errorf("database %q: dsn required", db.Name)
		}
	}
	if c.Auth.Enable && c.Auth.Secret == "" {
		return errors.New("auth enabled but no secret configured")
	}
	return nil
}
