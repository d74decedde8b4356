package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"orchex/internal/lock"
)

const (
	schema = "orchex_schema"

	migrationLockKey = "orchex:migration"
	migrationLockTTL = time.Minute
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS orchex_schema.queues (
		id                       BIGSERIAL PRIMARY KEY,
		name                     TEXT NOT NULL UNIQUE,
		max_retries              INT NOT NULL DEFAULT 0,
		enforce_unique_reference BOOLEAN NOT NULL DEFAULT FALSE,
		created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS orchex_schema.queue_items (
		id           BIGSERIAL PRIMARY KEY,
		queue_id     BIGINT NOT NULL REFERENCES orchex_schema.queues(id) ON DELETE CASCADE,
		reference    TEXT,
		status       TEXT NOT NULL DEFAULT 'new',
		priority     INT NOT NULL DEFAULT 0,
		payload      JSONB,
		output       JSONB,
		error_type   TEXT,
		error_reason TEXT,
		retries      INT NOT NULL DEFAULT 0,
		locked_by    TEXT,
		locked_at    TIMESTAMPTZ,
		job_id       BIGINT,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		completed_at TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_queue_items_claim
		ON orchex_schema.queue_items (queue_id, status, priority DESC, created_at ASC)`,

	`CREATE INDEX IF NOT EXISTS idx_queue_items_reference
		ON orchex_schema.queue_items (queue_id, reference)`,

	`CREATE TABLE IF NOT EXISTS orchex_schema.triggers (
		id                    BIGSERIAL PRIMARY KEY,
		name                  TEXT NOT NULL,
		enabled               BOOLEAN NOT NULL DEFAULT TRUE,
		process_ref           TEXT NOT NULL,
		worker_ref            TEXT,
		type                  TEXT NOT NULL,
		cron_expression       TEXT,
		timezone              TEXT,
		queue_id              BIGINT REFERENCES orchex_schema.queues(id) ON DELETE CASCADE,
		batch_size            INT,
		polling_interval_secs BIGINT,
		next_fire_at          TIMESTAMPTZ,
		last_fired_at         TIMESTAMPTZ,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_triggers_due
		ON orchex_schema.triggers (enabled, next_fire_at)`,

	`CREATE TABLE IF NOT EXISTS orchex_schema.jobs (
		id             BIGSERIAL PRIMARY KEY,
		source         TEXT NOT NULL,
		trigger_id     BIGINT,
		process_ref    TEXT NOT NULL,
		worker_ref     TEXT,
		queue_item_ids BIGINT[] NOT NULL DEFAULT '{}',
		status         TEXT NOT NULL DEFAULT 'pending',
		error_message  TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

// Init verifies the connection and creates the schema and tables if they do
// not exist. Only one instance runs the DDL at a time: the migration lock is
// polled until acquired so every node ends up seeing a complete schema.
func Init(ctx context.Context, db *sql.DB, leaderLock lock.LeaderLock) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	handle, err := acquireMigrationLock(ctx, leaderLock)
	if err != nil {
		return err
	}
	defer handle.Release(context.WithoutCancel(ctx))

	if _, err = db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("run migration: %w", err)
		}
	}

	return nil
}

func acquireMigrationLock(ctx context.Context, leaderLock lock.LeaderLock) (lock.Handle, error) {
	for {
		handle, acquired, err := leaderLock.TryAcquire(ctx, migrationLockKey, migrationLockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire migration lock: %w", err)
		}
		if acquired {
			return handle, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
