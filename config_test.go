// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package conduit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "conduit.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
bind = ":9000"
verbose = true
collective-timeout = "45s"

[auth]
enable = true
secret = "topsecret"
issuer = "conduit"

[[databases]]
name = "orders"
engine = "postgresql"
dsn = "postgres://localhost/orders"
bootstrap-query = "SELECT ref, query, name, queue, timeout, type FROM query_table"

[databases.queues.slow]
workers = 1

[databases.queues.fast]
workers = 4
capacity = 512

[[databases]]
name = "reporting"
engine = "db2"
dsn = "DSN=reporting"
`)
	c, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", c.Bind)
	assert.True(t, c.Verbose)
	assert.Equal(t, 45*time.Second, time.Duration(c.CollectiveTimeout))
	// unset durations keep their defaults
	assert.Equal(t, DefaultDrainTimeout, time.Duration(c.DrainTimeout))

	assert.True(t, c.Auth.Enable)
	assert.Equal(t, "topsecret", c.Auth.Secret)

	require.Len(t, c.Databases, 2)
	orders := c.Databases[0]
	assert.Equal(t, "orders", orders.Name)
	assert.Equal(t, "postgresql", orders.Engine)
	assert.Equal(t, 4, orders.Queues.Fast.Workers)
	assert.Equal(t, 512, orders.Queues.Fast.Capacity)
	assert.Equal(t, "db2", c.Databases[1].Engine)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig("/does/not/exist.toml")
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		c := NewConfig()
		c.Databases = []DatabaseConfig{
			{Name: "main", Engine: "sqlite", DSN: "file:test.db"},
		}
		return c
	}
	require.NoError(t, valid().Validate())

	c := valid()
	c.Bind = ""
	require.Error(t, c.Validate())

	c = valid()
	c.Databases = nil
	require.Error(t, c.Validate())

	c = valid()
	c.Databases[0].Engine = "oracle"
	require.Error(t, c.Validate())

	c = valid()
	c.Databases[0].DSN = ""
	require.Error(t, c.Validate())

	c = valid()
	c.Databases = append(c.Databases, DatabaseConfig{Name: "main", Engine: "mysql", DSN: "x"})
	require.Error(t, c.Validate(), "duplicate database names rejected")

	c = valid()
	c.Auth.Enable = true
	require.Error(t, c.Validate(), "auth without secret rejected")
	c.Auth.Secret = "s"
	require.NoError(t, c.Validate())
}
