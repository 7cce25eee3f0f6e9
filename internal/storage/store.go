package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"emi-offers/internal/config"
)

const defaultBusyTimeout = 5 * time.Second

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// Open builds the offers store selected by cfg.Driver, applying schema
// migrations first when cfg.AutoMigrate is set.
func Open(ctx context.Context, cfg config.DatabaseConfig) (OfferStore, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return OpenSQLite(ctx, cfg.SQLitePath, SQLiteOptions{
			BusyTimeout: cfg.BusyTimeout,
			AutoMigrate: cfg.AutoMigrate,
		})
	case config.DriverPostgres:
		if cfg.AutoMigrate {
			if err := MigratePostgres(cfg.DSN); err != nil {
				return nil, err
			}
		}
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
