package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	pool    *pgxpool.Pool
	once    sync.Once
	initErr error
)

// InitDB initializes the process-wide connection pool. Later calls return the
// outcome of the first one.
func InitDB(ctx context.Context, dbURL string) error {
	once.Do(func() {
		var err error
		defer func() { initErr = err }()
		if dbURL == "" {
			err = fmt.Errorf("database URL not set")
			return
		}

		config, parseErr := pgxpool.ParseConfig(dbURL)
		if parseErr != nil {
			err = fmt.Errorf("failed to parse database config: %w", parseErr)
			return
		}

		pool, err = pgxpool.NewWithConfig(ctx, config)
		if err != nil {
			err = fmt.Errorf("failed to open database pool: %w", err)
			return
		}
		if err = EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			pool = nil
		}
	})
	return initErr
}

// GetPool returns the database connection pool, or nil before InitDB succeeds.
func GetPool() *pgxpool.Pool {
	return pool
}

// Close closes the database connection pool
func Close() {
	if pool != nil {
		pool.Close()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS reconcile_results (
	run_key     TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	ticker      TEXT NOT NULL,
	fiscal_year INT NOT NULL,
	quarter     INT NOT NULL,
	full_year   BOOLEAN NOT NULL,
	accession   TEXT NOT NULL,
	payload     JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureSchema creates the results table when missing.
func EnsureSchema(ctx context.Context, db DB) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create reconcile_results: %w", err)
	}
	return nil
}
