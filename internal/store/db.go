package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DB is the database/sql backed repository. Queries use $n placeholders and
// RETURNING, which both supported dialects accept.
type DB struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// Open connects to the datastore and applies the schema.
// driver is "postgres" or "sqlite3".
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	if driver == "sqlite3" {
		if dir := filepath.Dir(dsn); dir != "." && dsn != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// SQLite serialises writers; one connection avoids "database is locked".
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	for _, stmt := range schema {
		if _, err := sqlDB.ExecContext(ctx, stmt); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	slog.Info("store: connected", "driver", driver)
	return &DB{db: sqlDB, driver: driver, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying pool.
func (d *DB) Close() error { return d.db.Close() }

// Driver reports the configured driver name.
func (d *DB) Driver() string { return d.driver }

// Ping checks connectivity.
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

var schemas = map[string][]string{
	"postgres": {
		`CREATE TABLE IF NOT EXISTS messages (
			id            BIGSERIAL PRIMARY KEY,
			tenant_id     TEXT NOT NULL,
			chat_jid      TEXT NOT NULL,
			sender        TEXT NOT NULL DEFAULT '',
			sender_jid    TEXT NOT NULL DEFAULT '',
			body          TEXT NOT NULL DEFAULT '',
			direction     TEXT NOT NULL,
			ts            TIMESTAMPTZ NOT NULL,
			stanza_id     TEXT,
			raw_payload   TEXT,
			reply_to_id   BIGINT REFERENCES messages(id) ON DELETE SET NULL,
			quoted_body   TEXT NOT NULL DEFAULT '',
			quoted_sender TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS messages_tenant_chat ON messages (tenant_id, chat_jid, ts)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS messages_tenant_stanza ON messages (tenant_id, stanza_id) WHERE stanza_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id              BIGSERIAL PRIMARY KEY,
			tenant_id       TEXT NOT NULL,
			name            TEXT NOT NULL DEFAULT '',
			message         TEXT NOT NULL DEFAULT '',
			template_id     BIGINT,
			numbers         TEXT NOT NULL DEFAULT '',
			start_at        TIMESTAMPTZ NOT NULL,
			throttle_min_ms INTEGER NOT NULL,
			throttle_max_ms INTEGER NOT NULL,
			status          TEXT NOT NULL DEFAULT 'scheduled',
			created_at      TIMESTAMPTZ NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS campaigns_due ON campaigns (status, start_at)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id        BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name      TEXT NOT NULL DEFAULT '',
			phone     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS templates (
			id        BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name      TEXT NOT NULL,
			content   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS auto_replies (
			id      BIGSERIAL PRIMARY KEY,
			keyword TEXT NOT NULL,
			reply   TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id         BIGSERIAL PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			key_hash   TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	},
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS messages (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id     TEXT NOT NULL,
			chat_jid      TEXT NOT NULL,
			sender        TEXT NOT NULL DEFAULT '',
			sender_jid    TEXT NOT NULL DEFAULT '',
			body          TEXT NOT NULL DEFAULT '',
			direction     TEXT NOT NULL,
			ts            TIMESTAMP NOT NULL,
			stanza_id     TEXT,
			raw_payload   TEXT,
			reply_to_id   INTEGER REFERENCES messages(id) ON DELETE SET NULL,
			quoted_body   TEXT NOT NULL DEFAULT '',
			quoted_sender TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS messages_tenant_chat ON messages (tenant_id, chat_jid, ts)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS messages_tenant_stanza ON messages (tenant_id, stanza_id) WHERE stanza_id IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS campaigns (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id       TEXT NOT NULL,
			name            TEXT NOT NULL DEFAULT '',
			message         TEXT NOT NULL DEFAULT '',
			template_id     INTEGER,
			numbers         TEXT NOT NULL DEFAULT '',
			start_at        TIMESTAMP NOT NULL,
			throttle_min_ms INTEGER NOT NULL,
			throttle_max_ms INTEGER NOT NULL,
			status          TEXT NOT NULL DEFAULT 'scheduled',
			created_at      TIMESTAMP NOT NULL,
			updated_at      TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS campaigns_due ON campaigns (status, start_at)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			name      TEXT NOT NULL DEFAULT '',
			phone     TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS templates (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			name      TEXT NOT NULL,
			content   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS auto_replies (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			keyword TEXT NOT NULL,
			reply   TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id  TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			key_hash   TEXT NOT NULL UNIQUE,
			created_at TIMESTAMP NOT NULL
		)`,
	},
}
