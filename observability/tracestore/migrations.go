package tracestore

import (
	"context"
	"database/sql"
)

// schema is applied in order on every Open; each statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS trace_events (
		seq      INTEGER PRIMARY KEY AUTOINCREMENT,
		executor TEXT NOT NULL,
		kind     TEXT NOT NULL,
		task     TEXT NOT NULL DEFAULT '',
		at       TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trace_events_executor ON trace_events(executor, seq)`,
	`CREATE INDEX IF NOT EXISTS idx_trace_events_kind ON trace_events(kind)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
