package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/sx-copybot/internal/config"
)

// Execer runs a statement. *pgxpool.Pool implements it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}

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

// PoolConfig parses cfg into a pool configuration without connecting.
func PoolConfig(cfg config.DBConfig) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	return poolCfg, nil
}

// schema creates the audit table. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS copy_events (
		event_id     UUID PRIMARY KEY,
		occurred_at  TIMESTAMPTZ NOT NULL,
		kind         TEXT NOT NULL,
		operation_id UUID,
		account      TEXT NOT NULL DEFAULT '',
		source_hash  TEXT NOT NULL DEFAULT '',
		order_hash   TEXT NOT NULL DEFAULT '',
		market_hash  TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL DEFAULT '',
		reason       TEXT NOT NULL DEFAULT '',
		price        NUMERIC(78, 0),
		stake        NUMERIC(78, 0),
		count        INTEGER NOT NULL DEFAULT 0,
		duration_us  BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS copy_events_source_hash_idx ON copy_events (source_hash)`,
	`CREATE INDEX IF NOT EXISTS copy_events_occurred_at_idx ON copy_events (occurred_at)`,
}

// Migrate creates the audit schema if it does not exist.
func Migrate(ctx context.Context, db Execer) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
