package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rickgao/ordersync/internal/config"
)

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
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

// Execer is the subset of pgxpool.Pool used for DDL.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// LocationsTable is the table written by the location writer.
const LocationsTable = "delivery_locations"

// LocationColumns lists the columns in copy order.
var LocationColumns = []string{
	"partner_id", "user_id", "order_id", "latitude", "longitude",
	"heading", "speed", "recorded_at", "received_at",
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + LocationsTable + ` (
		partner_id  TEXT NOT NULL,
		user_id     TEXT NOT NULL DEFAULT '',
		order_id    TEXT NOT NULL DEFAULT '',
		latitude    DOUBLE PRECISION NOT NULL,
		longitude   DOUBLE PRECISION NOT NULL,
		heading     DOUBLE PRECISION NOT NULL DEFAULT 0,
		speed       DOUBLE PRECISION NOT NULL DEFAULT 0,
		recorded_at TIMESTAMPTZ NOT NULL,
		received_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS delivery_locations_partner_idx
		ON ` + LocationsTable + ` (partner_id, recorded_at DESC)`,
	`CREATE INDEX IF NOT EXISTS delivery_locations_order_idx
		ON ` + LocationsTable + ` (order_id, recorded_at DESC)`,
}

// EnsureSchema creates the locations table and its indexes if missing.
func EnsureSchema(ctx context.Context, db Execer) error {
	for i, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
