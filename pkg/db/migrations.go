package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// migration is one schema step; versions are sequential from 1.
type migration struct {
	version int
	sql     string
}

var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS user_settings (
	user_id                 TEXT PRIMARY KEY,
	imap_host               TEXT NOT NULL DEFAULT '',
	imap_port               INTEGER NOT NULL DEFAULT 993,
	imap_user               TEXT NOT NULL DEFAULT '',
	imap_password_encrypted TEXT NOT NULL DEFAULT '',
	sms_recipient           TEXT NOT NULL DEFAULT '',
	sms_token_encrypted     TEXT NOT NULL DEFAULT '',
	created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS processed_emails (
	id           BIGSERIAL PRIMARY KEY,
	user_id      TEXT NOT NULL,
	message_id   TEXT NOT NULL,
	sender       TEXT NOT NULL,
	recipient    TEXT NOT NULL,
	subject      TEXT NOT NULL,
	sent_at      TIMESTAMPTZ NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	importance   TEXT NOT NULL,
	summary      TEXT NOT NULL DEFAULT '',
	confidence   INTEGER NOT NULL DEFAULT 0,
	keywords     TEXT[] NOT NULL DEFAULT '{}',
	sms_sent     BOOLEAN NOT NULL DEFAULT FALSE,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (user_id, message_id)
);

CREATE INDEX IF NOT EXISTS idx_processed_emails_user_processed
	ON processed_emails (user_id, processed_at DESC);
CREATE INDEX IF NOT EXISTS idx_processed_emails_user_importance
	ON processed_emails (user_id, importance);

CREATE TABLE IF NOT EXISTS daily_stats (
	user_id    TEXT NOT NULL,
	day        DATE NOT NULL,
	total      INTEGER NOT NULL DEFAULT 0,
	high       INTEGER NOT NULL DEFAULT 0,
	medium     INTEGER NOT NULL DEFAULT 0,
	low        INTEGER NOT NULL DEFAULT 0,
	sms_sent   INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (user_id, day)
);

CREATE TABLE IF NOT EXISTS outbox_events (
	id             BIGSERIAL PRIMARY KEY,
	aggregate_type TEXT NOT NULL,
	aggregate_id   BIGINT,
	routing_key    TEXT NOT NULL,
	payload        JSONB NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	next_retry_at  TIMESTAMPTZ,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_outbox_events_pending
	ON outbox_events (status, next_retry_at, created_at);
`,
	},
}

// Migrate applies pending migrations inside one transaction each and records
// the applied version in schema_version.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	var current int
	if err := pool.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, pool, m); err != nil {
			return err
		}
		logger.Info("Applied schema migration", zap.Int("version", m.version))
	}
	return nil
}

func applyMigration(ctx context.Context, pool *pgxpool.Pool, m migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, m.version); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.version, err)
	}
	return tx.Commit(ctx)
}
