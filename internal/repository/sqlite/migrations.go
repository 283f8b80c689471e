package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rgeorgiev/sensorvault/internal/repository"
)

// schema is the complete SQLite schema. All statements are idempotent, so
// running the bootstrap on an existing database is a no-op.
const schema = `
CREATE TABLE IF NOT EXISTS upload_sessions (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    data_name TEXT NOT NULL,
    data_format TEXT NOT NULL DEFAULT '',
    remote_upload_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'in_progress',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_upload_sessions_owner ON upload_sessions(owner_id, status);
CREATE INDEX IF NOT EXISTS idx_upload_sessions_stale ON upload_sessions(status, updated_at);

CREATE TABLE IF NOT EXISTS upload_parts (
    session_id TEXT NOT NULL REFERENCES upload_sessions(id),
    part_number INTEGER NOT NULL,
    etag TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (session_id, part_number)
);

CREATE TABLE IF NOT EXISTS datasets (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    name TEXT NOT NULL,
    format TEXT NOT NULL DEFAULT '',
    storage_key TEXT NOT NULL,
    session_id TEXT UNIQUE NOT NULL REFERENCES upload_sessions(id),
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_datasets_owner ON datasets(owner_id);

CREATE TABLE IF NOT EXISTS rate_limit_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id TEXT NOT NULL,
    action TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_rate_limit_events_window
    ON rate_limit_events(owner_id, action, created_at);
`

// Migrate creates the schema if it does not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return repository.ErrNilDatabase
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
