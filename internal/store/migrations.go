package store

import (
	"context"
	"database/sql"
)

// schema contains the DDL for all tables. Column types are accepted by
// both SQLite and PostgreSQL; timestamps are fixed-width UTC text so that
// string comparison orders them.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		state         TEXT NOT NULL DEFAULT 'QUEUED',
		args          TEXT NOT NULL DEFAULT '{}',
		result        TEXT NOT NULL DEFAULT '',
		error         TEXT NOT NULL DEFAULT '',
		attempts      INTEGER NOT NULL DEFAULT 0,
		max_attempts  INTEGER NOT NULL DEFAULT 3,
		worker_id     TEXT NOT NULL DEFAULT '',
		created_at    TEXT NOT NULL,
		started_at    TEXT,
		completed_at  TEXT,
		lease_until   TEXT
	)`,
	// Checkout scans QUEUED jobs oldest first.
	`CREATE INDEX IF NOT EXISTS idx_jobs_state_created ON jobs(state, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_name ON jobs(name)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_worker_id ON jobs(worker_id)`,

	`CREATE TABLE IF NOT EXISTS workers (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		hostname      TEXT NOT NULL DEFAULT '',
		state         TEXT NOT NULL DEFAULT 'online',
		concurrency   INTEGER NOT NULL DEFAULT 1,
		last_seen     TEXT NOT NULL,
		registered_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_workers_state ON workers(state)`,
}

// migrate executes all schema DDL statements.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
