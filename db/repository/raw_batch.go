// Package repository holds the raw staging store: the append-only handoff
// between the Extract Worker and the Transform Worker (§4.3).
package repository

import (
	"context"
	"fmt"
	"time"

	"pipelinecore.dev/db"
	"pipelinecore.dev/pipeline"
)

// RawBatchRepository persists and retrieves staged extraction pages. Rows
// are never mutated except to stamp ConsumedByTransformAt, and never
// deleted except by the retention sweep.
type RawBatchRepository interface {
	SaveBatch(ctx context.Context, batch *pipeline.RawBatch) error
	GetBatch(ctx context.Context, tenantID int64, batchID string) (*pipeline.RawBatch, error)
	UnconsumedBatches(ctx context.Context, tenantID int64, limit int) ([]*pipeline.RawBatch, error)
	MarkConsumed(ctx context.Context, tenantID int64, batchID string, consumedAt time.Time) error
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// PostgresRawBatchRepository implements RawBatchRepository with raw SQL
// over a pgx pool, favoring direct inserts and index-backed scans over an
// ORM for this append-heavy, high-throughput table.
type PostgresRawBatchRepository struct {
	db *db.PostgresPool
}

// NewPostgresRawBatchRepository wraps an existing pool.
func NewPostgresRawBatchRepository(pool *db.PostgresPool) *PostgresRawBatchRepository {
	return &PostgresRawBatchRepository{db: pool}
}

// SaveBatch appends one staged page. BatchID is assigned by the caller
// (the Extract Worker) so it can reference the same batch in its
// pipeline.QueueTransform message without a round trip.
func (r *PostgresRawBatchRepository) SaveBatch(ctx context.Context, batch *pipeline.RawBatch) error {
	const query = `
		INSERT INTO raw_batches (tenant_id, integration_id, batch_id, kind, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if err := r.db.Exec(ctx, query, batch.TenantID, batch.IntegrationID, batch.BatchID, batch.Kind, batch.Payload, batch.ReceivedAt); err != nil {
		return fmt.Errorf("save raw batch %s: %w", batch.BatchID, err)
	}
	return nil
}

// GetBatch fetches one staged page by its tenant-scoped batch ID, the
// lookup the Transform Worker performs on receiving a queue message that
// only carries the ID, not the payload.
func (r *PostgresRawBatchRepository) GetBatch(ctx context.Context, tenantID int64, batchID string) (*pipeline.RawBatch, error) {
	const query = `
		SELECT tenant_id, integration_id, batch_id, kind, payload, received_at, consumed_by_transform_at
		FROM raw_batches WHERE tenant_id = $1 AND batch_id = $2`
	row := r.db.QueryRow(ctx, query, tenantID, batchID)
	b := &pipeline.RawBatch{}
	if err := row.Scan(&b.TenantID, &b.IntegrationID, &b.BatchID, &b.Kind, &b.Payload, &b.ReceivedAt, &b.ConsumedByTransformAt); err != nil {
		return nil, fmt.Errorf("get raw batch %s: %w", batchID, err)
	}
	return b, nil
}

// UnconsumedBatches returns staged pages the Transform Worker has not yet
// processed for a tenant, oldest first, so a restarted worker drains its
// backlog in arrival order.
func (r *PostgresRawBatchRepository) UnconsumedBatches(ctx context.Context, tenantID int64, limit int) ([]*pipeline.RawBatch, error) {
	const query = `
		SELECT tenant_id, integration_id, batch_id, kind, payload, received_at, consumed_by_transform_at
		FROM raw_batches
		WHERE tenant_id = $1 AND consumed_by_transform_at IS NULL
		ORDER BY received_at
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("query unconsumed batches: %w", err)
	}
	defer rows.Close()

	var batches []*pipeline.RawBatch
	for rows.Next() {
		b := &pipeline.RawBatch{}
		if err := rows.Scan(&b.TenantID, &b.IntegrationID, &b.BatchID, &b.Kind, &b.Payload, &b.ReceivedAt, &b.ConsumedByTransformAt); err != nil {
			return nil, fmt.Errorf("scan raw batch: %w", err)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// MarkConsumed stamps a batch as picked up by the Transform Worker. Safe to
// call twice: a second call on an already-consumed batch affects zero rows
// and returns no error, since at-least-once delivery can redeliver a
// transform message for a batch already marked.
func (r *PostgresRawBatchRepository) MarkConsumed(ctx context.Context, tenantID int64, batchID string, consumedAt time.Time) error {
	const query = `
		UPDATE raw_batches SET consumed_by_transform_at = $1
		WHERE tenant_id = $2 AND batch_id = $3 AND consumed_by_transform_at IS NULL`
	if err := r.db.Exec(ctx, query, consumedAt, tenantID, batchID); err != nil {
		return fmt.Errorf("mark batch %s consumed: %w", batchID, err)
	}
	return nil
}

// DeleteOlderThan purges consumed batches past the retention window,
// returning the number of rows removed. Unconsumed batches are never
// deleted regardless of age; a stuck batch needs operator attention, not
// silent loss.
func (r *PostgresRawBatchRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM raw_batches WHERE consumed_by_transform_at IS NOT NULL AND received_at < $1`
	tag, err := r.db.Pool().Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("delete old raw batches: %w", err)
	}
	return tag.RowsAffected(), nil
}
