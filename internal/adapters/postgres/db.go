package postgres

import (
    "context"
    "time"

    "github.com/jackc/pgx/v5/pgxpool"
    "github.com/jackc/pgx/v5/stdlib"

    "github.com/odomlab/odom-data-processing/internal/migrations"
    "github.com/odomlab/odom-data-processing/internal/ports"
)

type DB struct {
    Pool *pgxpool.Pool
}

var _ ports.Repository = (*DB)(nil)

func Connect(ctx context.Context, url string) (*DB, error) {
    cfg, err := pgxpool.ParseConfig(url)
    if err != nil {
        return nil, err
    }
    cfg.MaxConns = 10
    cfg.HealthCheckPeriod = 30 * time.Second
    pool, err := pgxpool.NewWithConfig(ctx, cfg)
    if err != nil {
        return nil, err
    }
    if err := pool.Ping(ctx); err != nil {
        pool.Close()
        return nil, err
    }
    return &DB{Pool: pool}, nil
}

func (db *DB) Close() { db.Pool.Close() }

// Migrate applies the embedded goose migrations through a database/sql view
// of the pool.
func (db *DB) Migrate(ctx context.Context) error {
    sqldb := stdlib.OpenDBFromPool(db.Pool)
    defer sqldb.Close()
    return migrations.Up(ctx, sqldb, "postgres")
}
