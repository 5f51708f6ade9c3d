// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package dbqueue

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// QueueType is the speed class routing hint attached to a cached query.
type QueueType int

const (
	QueueSlow QueueType = iota
	QueueMedium
	QueueFast
	QueueCache
)

// queueTypes enumerates every speed class in startup order.
var queueTypes = []QueueType{QueueSlow, QueueMedium, QueueFast, QueueCache}

// QueueTypes returns every speed class in startup order.
func QueueTypes() []QueueType {
	out := make([]QueueType, len(queueTypes))
	copy(out, queueTypes)
	return out
}

func (t QueueType) String() string {
	switch t {
	case QueueSlow:
		return "slow"
	case QueueMedium:
		return "medium"
	case QueueFast:
		return "fast"
	case QueueCache:
		return "cache"
	}
	return "unknown"
}

// ParseQueueType maps a queue name to its speed class. Unrecognized
// values default to the slow class rather than failing; routing is a
// hint, not a contract.
func ParseQueueType(s string) QueueType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "medium":
		return QueueMedium
	case "fast":
		return QueueFast
	case "cache":
		return QueueCache
	default:
		return QueueSlow
	}
}

// CacheEntry is one cached query definition, immutable after bootstrap.
type CacheEntry struct {
	QueryRef       int
	SQLTemplate    string
	QueueType      QueueType
	TimeoutSeconds int
	Description    string
}

// QueryTableCache maps query_ref to its CacheEntry for one database.
// Populated once by the lead queue's bootstrap; read concurrently by
// every dispatcher call afterwards.
type QueryTableCache struct {
	mu      sync.Mutex
	label   string
	entries map[int]*CacheEntry
}

// NewQueryTableCache returns an empty cache. The label carries the
// subsystem and database name for diagnostics.
func NewQueryTableCache(label string) *QueryTableCache {
	return &QueryTableCache{
		label:   label,
		entries: make(map[int]*CacheEntry),
	}
}

// Add inserts an entry, failing if the query_ref is already present.
func (c *QueryTableCache) Add(entry *CacheEntry) error {
	if entry == nil {
		return errors.New("nil cache entry")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[entry.QueryRef]; ok {
		return errors.Errorf("%s: duplicate query_ref %d", c.label, entry.QueryRef)
	}
	c.entries[entry.QueryRef] = entry
	return nil
}

// Lookup returns the entry for query_ref, or nil.
func (c *QueryTableCache) Lookup(queryRef int) *CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[queryRef]
}

// Len returns the number of cached entries.
func (c *QueryTableCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *QueryTableCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[int]*CacheEntry)
}
