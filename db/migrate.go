package db

import (
	"context"
	"fmt"
)

// rawTableStatements creates the three tables the pgx-backed stores in this
// package and in db/repository own: the job catalog, the integration
// registry, and the raw staging table. The gorm-backed canonical entity
// tables are migrated separately by CatalogStore.Migrate.
var rawTableStatements = []string{
	`CREATE TABLE IF NOT EXISTS integrations (
		id                    BIGSERIAL PRIMARY KEY,
		tenant_id             BIGINT NOT NULL,
		kind                  TEXT NOT NULL,
		active                BOOLEAN NOT NULL DEFAULT true,
		base_search           TEXT NOT NULL DEFAULT '',
		encrypted_credentials BYTEA NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_integrations_tenant ON integrations (tenant_id)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		id                        BIGSERIAL PRIMARY KEY,
		tenant_id                 BIGINT NOT NULL,
		job_name                  TEXT NOT NULL,
		integration_id            BIGINT NOT NULL REFERENCES integrations (id),
		status                    TEXT NOT NULL DEFAULT 'READY',
		schedule_interval_minutes INT NOT NULL,
		retry_interval_minutes    INT NOT NULL,
		last_run_started_at       TIMESTAMPTZ,
		last_run_finished_at      TIMESTAMPTZ,
		retry_count               INT NOT NULL DEFAULT 0,
		error_message             TEXT,
		checkpoint_data           BYTEA,
		active                    BOOLEAN NOT NULL DEFAULT true,
		UNIQUE (tenant_id, job_name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs (active, status, last_run_finished_at)`,

	`CREATE TABLE IF NOT EXISTS raw_batches (
		tenant_id                BIGINT NOT NULL,
		integration_id           BIGINT NOT NULL,
		batch_id                 TEXT NOT NULL,
		kind                     TEXT NOT NULL,
		payload                  BYTEA NOT NULL,
		received_at              TIMESTAMPTZ NOT NULL,
		consumed_by_transform_at TIMESTAMPTZ,
		PRIMARY KEY (tenant_id, batch_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_batches_unconsumed ON raw_batches (tenant_id, consumed_by_transform_at, received_at)`,
}

// MigrateRawTables creates the job catalog, integration registry, and raw
// staging tables if they do not already exist. Idempotent, so it is safe to
// run on every deploy rather than requiring a separate migration runner.
func MigrateRawTables(ctx context.Context, pool *PostgresPool) error {
	for _, stmt := range rawTableStatements {
		if err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate raw tables: %w", err)
		}
	}
	return nil
}
