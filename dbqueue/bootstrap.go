// Copyright 2026 Conduit Authors.
// SPDX-License-Identifier: Apache-2.0
package dbqueue

import (
	"context"
	"encoding/json"
	"strings"
)

// bootstrapRow is the recognized shape of one bootstrap result row. Rows
// that don't fit are skipped with a warning.
type bootstrapRow struct {
	Ref     *int    `json:"ref"`
	Query   *string `json:"query"`
	Name    string  `json:"name"`
	Queue   string  `json:"queue"`
	Timeout int     `json:"timeout"`
	Type    string  `json:"type"`
}

// runBootstrap executes the lead queue's configured bootstrap query and
// populates the query table cache from its rows. Every failure here is
// soft: execution errors, unparsable output and malformed rows are
// logged and leave the cache partially or fully empty, but bootstrap
// always completes so the launch sequence never hangs on it.
func (q *DatabaseQueue) runBootstrap(ctx context.Context) {
	defer func() {
		q.mu.Lock()
		q.bootstrapCompleted = true
		q.mu.Unlock()
	}()

	if q.bootstrapQuery == "" {
		q.logger.Debugf("no bootstrap query configured")
		return
	}

	result, err := q.eng.Execute(ctx, q.bootstrapQuery, nil)
	if err != nil {
		q.logger.Errorf("bootstrap query failed: %v", err)
		return
	}
	if !result.Success {
		q.logger.Errorf("bootstrap query failed: %s", result.ErrorMessage)
		return
	}

	var rows []json.RawMessage
	if err := json.Unmarshal([]byte(result.DataJSON), &rows); err != nil {
		q.logger.Errorf("bootstrap result is not a JSON array: %v", err)
		return
	}

	if len(rows) == 0 {
		q.mu.Lock()
		q.emptyDatabase = true
		q.mu.Unlock()
		q.logger.Warnf("bootstrap returned no queries, database is empty")
		q.dropOrphanedTable(ctx)
		return
	}

	added := 0
	for i, raw := range rows {
		var row bootstrapRow
		if err := json.Unmarshal(raw, &row); err != nil || row.Ref == nil || row.Query == nil {
			q.logger.Warnf("skipping malformed bootstrap row %d", i)
			continue
		}
		entry := &CacheEntry{
			QueryRef:       *row.Ref,
			SQLTemplate:    *row.Query,
			QueueType:      ParseQueueType(row.Queue),
			TimeoutSeconds: row.Timeout,
			Description:    row.Name,
		}
		if err := q.cache.Add(entry); err != nil {
			q.logger.Warnf("skipping bootstrap row %d: %v", i, err)
			continue
		}
		added++
	}
	q.logger.Infof("bootstrap cached %d of %d queries", added, len(rows))
}

// dropOrphanedTable makes a single best-effort attempt to drop the table
// the bootstrap query reads from when that query returned zero rows. The
// table name comes from a textual scan for the identifier after FROM; no
// FROM means no attempt, silently. A failed drop is logged only.
func (q *DatabaseQueue) dropOrphanedTable(ctx context.Context) {
	table := orphanedTableName(q.bootstrapQuery)
	if table == "" {
		return
	}

	q.mu.Lock()
	q.orphanedTableDropped = true
	q.mu.Unlock()

	q.logger.Warnf("dropping orphaned table %s", table)
	result, err := q.eng.Execute(ctx, "DROP TABLE "+table, nil)
	if err != nil {
		q.logger.Errorf("dropping orphaned table %s: %v", table, err)
		return
	}
	if !result.Success {
		q.logger.Errorf("dropping orphaned table %s: %s", table, result.ErrorMessage)
	}
}

// orphanedTableName extracts the identifier following the first FROM
// keyword in sql, or "" when there is none. This is a deliberate
// best-effort substring scan, not a SQL parse.
func orphanedTableName(sql string) string {
	fields := strings.Fields(sql)
	for i := 0; i < len(fields)-1; i++ {
		if strings.EqualFold(fields[i], "FROM") {
			return trimIdentifier(fields[i+1])
		}
	}
	return ""
}

// trimIdentifier keeps the leading run of identifier characters
// (letters, digits, underscore, dot for schema-qualified names).
func trimIdentifier(s string) string {
	for i, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' ||
			r >= '0' && r <= '9' || r == '_' || r == '.' {
			continue
		}
		return s[:i]
	}
	return s
}
