package db

import (
	"context"
	"fmt"
)

// schemaStatements holds the table definitions, one statement each since
// the extended protocol executes a single command at a time. Statuses are
// stored as text; the unique constraints carry the concurrency model:
// duplicate webhooks and racing workers collide on them instead of taking
// locks.
var schemaStatements = []string{`
CREATE TABLE IF NOT EXISTS security_check (
    id           BIGSERIAL PRIMARY KEY,
    external_id  TEXT NOT NULL UNIQUE,
    event_type   TEXT NOT NULL,
    event_json   JSONB NOT NULL,
    commit_hash  TEXT NOT NULL,
    branch       TEXT NOT NULL,
    project_name TEXT NOT NULL,
    path         TEXT NOT NULL,
    prefix       TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`, `
CREATE TABLE IF NOT EXISTS security_scan (
    id              BIGSERIAL PRIMARY KEY,
    check_id        BIGINT NOT NULL REFERENCES security_check (id),
    scan_name       TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'new',
    started_at      TIMESTAMPTZ,
    finished_at     TIMESTAMPTZ,
    response        JSONB,
    outputs_test_id JSONB,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (check_id, scan_name)
)`, `
CREATE TABLE IF NOT EXISTS security_notification (
    id         BIGSERIAL PRIMARY KEY,
    scan_id    BIGINT NOT NULL REFERENCES security_scan (id),
    channel    TEXT NOT NULL,
    is_sent    BOOLEAN NOT NULL DEFAULT FALSE,
    payload    JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (scan_id, channel)
)`,
}

// EnsureSchema creates the tables if they do not exist yet
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, statement := range schemaStatements {
		if _, err := db.Exec(ctx, statement); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
