// Package db holds the two PostgreSQL access paths this service needs: a
// thin pgx pool wrapper for raw-SQL, high-throughput paths (the raw staging
// store, the job catalog) and a gorm-backed store for the canonical entity
// graph (catalog.go).
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPool wraps a pgx connection pool for the raw-SQL access paths:
// the append-only raw staging store and the scheduler's job catalog, both
// of which run CAS updates and bulk inserts that would gain nothing from an
// ORM.
type PostgresPool struct {
	pool *pgxpool.Pool
}

// NewPostgresPool opens a pool against the standard PostgreSQL connection
// string format:
//
//	postgresql://[user[:password]@][host][:port][/dbname][?param1=value1&...]
func NewPostgresPool(ctx context.Context, connString string) (*PostgresPool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresPool{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (db *PostgresPool) Close() {
	db.pool.Close()
}

// Exec executes a statement that returns no rows.
func (db *PostgresPool) Exec(ctx context.Context, sql string, args ...interface{}) error {
	_, err := db.pool.Exec(ctx, sql, args...)
	return err
}

// Query executes a query returning multiple rows. The caller must close them.
func (db *PostgresPool) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return db.pool.Query(ctx, sql, args...)
}

// QueryRow executes a query expected to return at most one row.
func (db *PostgresPool) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	return db.pool.QueryRow(ctx, sql, args...)
}

// Pool exposes the underlying pool for callers that need transactions or
// batch operations, such as the scheduler.Store and repository packages.
func (db *PostgresPool) Pool() *pgxpool.Pool {
	return db.pool
}
