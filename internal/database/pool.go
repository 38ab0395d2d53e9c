package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/flowstream/internal/config"
)

// Schema creates the history table if it does not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS execution_history (
	execution_id  TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	workflow_id   TEXT,
	workflow_name TEXT,
	triggered_by  TEXT,
	started_at    TEXT,
	completed_at  TEXT,
	duration_ms   DOUBLE PRECISION,
	is_complete   BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at    BIGINT NOT NULL
)`

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Migrate applies Schema.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create execution_history: %w", err)
	}
	return nil
}
