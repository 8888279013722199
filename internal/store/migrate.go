package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// Migrate applies pending schema migrations. It is idempotent and safe to
// call on every start.
func (d *DB) Migrate() error {
	m, err := d.newMigrator()
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		slog.Debug("No migrations to apply (database up-to-date)")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, _ := m.Version()
	slog.Info("Applied migrations successfully", "version", version)
	return nil
}

// SchemaVersion returns the applied migration version and whether the schema
// was left dirty by a failed migration. Version 0 means no migrations ran.
func (d *DB) SchemaVersion() (uint, bool, error) {
	m, err := d.newMigrator()
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(m)

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, dirty, nil
}

// newMigrator opens a dedicated connection because closing a migrator
// closes the database handle it was given.
func (d *DB) newMigrator() (*migrate.Migrate, error) {
	var driverName, dir string
	switch d.dialect {
	case Postgres:
		driverName, dir = "pgx", "migrations/postgres"
	default:
		driverName, dir = "sqlite", "migrations/sqlite"
	}

	src, err := iofs.New(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	conn, err := sql.Open(driverName, d.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration connection: %w", err)
	}

	var driver database.Driver
	switch d.dialect {
	case Postgres:
		driver, err = migratepgx.WithInstance(conn, &migratepgx.Config{})
	default:
		driver, err = migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, d.dialect.String(), driver)
	if err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return m, nil
}

func closeMigrator(m *migrate.Migrate) {
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		slog.Warn("Failed to close migration source", "error", srcErr)
	}
	if dbErr != nil {
		slog.Warn("Failed to close migration database", "error", dbErr)
	}
}
