package store

import (
	"context"
	"fmt"
)

// migrations are applied in order on startup. Statements are idempotent so
// repeated startups are safe.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS minerals (
		id                   BIGINT PRIMARY KEY,
		name                 TEXT NOT NULL,
		formula              TEXT NOT NULL DEFAULT '',
		crystal_system       VARCHAR(64) NOT NULL DEFAULT '',
		crystal_class_id     BIGINT,
		space_group          VARCHAR(64) NOT NULL DEFAULT '',
		cell_a               DOUBLE PRECISION,
		cell_b               DOUBLE PRECISION,
		cell_c               DOUBLE PRECISION,
		cell_alpha           DOUBLE PRECISION,
		cell_beta            DOUBLE PRECISION,
		cell_gamma           DOUBLE PRECISION,
		elements             TEXT[] NOT NULL DEFAULT '{}',
		description          TEXT NOT NULL DEFAULT '',
		ima_status           VARCHAR(64) NOT NULL DEFAULT '',
		source_update_time   TIMESTAMPTZ,
		last_updated_locally TIMESTAMPTZ NOT NULL,
		is_active            BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_minerals_name ON minerals (name)`,
	`CREATE INDEX IF NOT EXISTS idx_minerals_source_update_time ON minerals (source_update_time)`,
	`CREATE TABLE IF NOT EXISTS run_logs (
		id            UUID PRIMARY KEY,
		run_type      VARCHAR(32) NOT NULL,
		status        VARCHAR(16) NOT NULL,
		started_at    TIMESTAMPTZ NOT NULL,
		completed_at  TIMESTAMPTZ,
		processed     INT NOT NULL DEFAULT 0,
		added         INT NOT NULL DEFAULT 0,
		updated       INT NOT NULL DEFAULT 0,
		error_count   INT NOT NULL DEFAULT 0,
		errors        TEXT[] NOT NULL DEFAULT '{}',
		details       TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_run_logs_started_at ON run_logs (started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS import_checkpoints (
		file_fingerprint TEXT PRIMARY KEY,
		run_id           UUID NOT NULL,
		last_row_index   INT NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL
	)`,
}

// RunMigrations creates the schema if it does not exist yet.
func (s *Store) RunMigrations(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
