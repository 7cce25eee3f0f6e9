package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"emi-offers/internal/config"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

// Migrate applies pending schema migrations for the configured driver.
func Migrate(ctx context.Context, cfg config.DatabaseConfig) error {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		store, err := OpenSQLite(ctx, cfg.SQLitePath, SQLiteOptions{BusyTimeout: cfg.BusyTimeout, AutoMigrate: true})
		if err != nil {
			return err
		}
		return store.Close()
	case config.DriverPostgres:
		return MigratePostgres(cfg.DSN)
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// migrateSQLite runs the embedded SQLite migrations on db. The migrate
// instance is not closed because that would close db.
func migrateSQLite(db *sql.DB) error {
	src, err := iofs.New(migrationFiles, "migrations/sqlite")
	if err != nil {
		return fmt.Errorf("load sqlite migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("sqlite migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("sqlite migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply sqlite migrations: %w", err)
	}
	return nil
}

// MigratePostgres runs the embedded PostgreSQL migrations over a dedicated
// connection.
func MigratePostgres(dsn string) error {
	if dsn == "" {
		return fmt.Errorf("database.dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open postgres for migrations: %w", err)
	}

	src, err := iofs.New(migrationFiles, "migrations/postgres")
	if err != nil {
		db.Close()
		return fmt.Errorf("load postgres migrations: %w", err)
	}
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		db.Close()
		return fmt.Errorf("postgres migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("postgres migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply postgres migrations: %w", err)
	}
	return nil
}
