package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema — DDL хранилища. Идемпотентен: применяется на каждом старте.
const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id              UUID PRIMARY KEY,
	type            TEXT NOT NULL,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL,
	config          JSONB,
	delivery        JSONB,
	attachment_refs JSONB,
	status          TEXT NOT NULL,
	attempts        INT NOT NULL DEFAULT 0,
	max_attempts    INT NOT NULL DEFAULT 3,
	last_error      TEXT,
	next_retry_at   TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL,
	queued_at       TIMESTAMPTZ,
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ,
	outputs_path    TEXT NOT NULL DEFAULT '',
	result_summary  TEXT NOT NULL DEFAULT '',
	cloud_links     JSONB,
	correlation_id  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks (status, created_at)
	WHERE status IN ('queued', 'retry');

CREATE TABLE IF NOT EXISTS task_logs (
	id             BIGSERIAL PRIMARY KEY,
	task_id        UUID NOT NULL REFERENCES tasks (id) ON DELETE CASCADE,
	level          TEXT NOT NULL,
	event          TEXT NOT NULL,
	message        TEXT NOT NULL,
	data           JSONB,
	timestamp      TIMESTAMPTZ NOT NULL,
	correlation_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_task_logs_task_id ON task_logs (task_id, timestamp DESC);
`

// EnsureSchema применяет DDL. Вызывается при старте процесса.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
