package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the pipeline schema if it does not exist. Schema
// management is deliberately simple: idempotent DDL run at startup.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	schema := `
	CREATE EXTENSION IF NOT EXISTS "pgcrypto";

	CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id UUID NOT NULL,
		email TEXT NOT NULL,
		encrypted_cred BYTEA,
		sync_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (user_id, email)
	);

	CREATE TABLE IF NOT EXISTS mailboxes (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		account_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		path TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (account_id, path)
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		mailbox_id UUID PRIMARY KEY REFERENCES mailboxes(id) ON DELETE CASCADE,
		last_uid BIGINT NOT NULL DEFAULT 0,
		last_checked_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS messages (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		mailbox_id UUID NOT NULL REFERENCES mailboxes(id) ON DELETE CASCADE,
		uid BIGINT NOT NULL,
		message_id TEXT,
		subject TEXT,
		from_addr TEXT,
		from_name TEXT,
		to_addrs TEXT[],
		date TIMESTAMPTZ,
		internal_date TIMESTAMPTZ,
		flags TEXT[],
		raw BYTEA,
		size BIGINT NOT NULL DEFAULT 0,
		read BOOLEAN NOT NULL DEFAULT FALSE,
		archived BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (mailbox_id, uid)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_mailbox_date ON messages (mailbox_id, date DESC);

	CREATE TABLE IF NOT EXISTS message_versions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		version INT NOT NULL,
		raw BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (message_id, version)
	);

	CREATE TABLE IF NOT EXISTS attachments (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		filename TEXT,
		content_type TEXT,
		size BIGINT NOT NULL DEFAULT 0,
		content_id TEXT,
		sha256 TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (message_id, sha256)
	);

	CREATE TABLE IF NOT EXISTS ai_metadata (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		version INT NOT NULL DEFAULT 1,
		stage TEXT NOT NULL DEFAULT 'pending',
		category TEXT,
		spam BOOLEAN,
		confidence DOUBLE PRECISION,
		cold BOOLEAN,
		reason TEXT,
		method TEXT,
		summary TEXT,
		action TEXT,
		action_details JSONB,
		events JSONB,
		tracking JSONB,
		model TEXT,
		provider TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (message_id, version)
	);

	CREATE TABLE IF NOT EXISTS calendar_events (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		summary TEXT NOT NULL,
		location TEXT,
		starts_at TIMESTAMPTZ,
		ends_at TIMESTAMPTZ,
		attendees TEXT[],
		source TEXT NOT NULL DEFAULT 'ics',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_calendar_events_message ON calendar_events (message_id);

	CREATE TABLE IF NOT EXISTS outbox_events (
		id BIGSERIAL PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT,
		routing_key TEXT NOT NULL,
		payload JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_count INT NOT NULL DEFAULT 0,
		next_retry_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_events_pending ON outbox_events (created_at) WHERE status = 'pending';
	`

	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
