package db

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

var migrateLog = slog.With(slog.String("component", "db_migrate"))

// newMigrator reads migrations from the embedded FS so the binary needs no
// migrations directory on disk.
func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	return m, nil
}

// RunMigrations applies every pending versioned migration. Running it against
// an up-to-date schema is a no-op.
//
// Files are named NNNNNN_description.up.sql / NNNNNN_description.down.sql.
func RunMigrations(db *sql.DB) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		migrateLog.Info("schema up to date")
		return nil
	case err != nil:
		return fmt.Errorf("apply migrations: %w", err)
	}
	return reportVersion(m, "migrations applied")
}

// MigrateDown reverts the latest migration. Reverting 000001 drops the
// participants and commands tables.
func MigrateDown(db *sql.DB) error {
	m, err := newMigrator(db)
	if err != nil {
		return err
	}
	switch err := m.Steps(-1); {
	case errors.Is(err, migrate.ErrNoChange):
		migrateLog.Info("nothing to roll back")
		return nil
	case err != nil:
		return fmt.Errorf("roll back migration: %w", err)
	}
	return reportVersion(m, "migration rolled back")
}

// reportVersion logs the schema version after a change and fails on a dirty
// schema. A nil version means every migration has been reverted.
func reportVersion(m *migrate.Migrate, msg string) error {
	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		migrateLog.Info(msg, slog.String("version", "none"))
		return nil
	case err != nil:
		migrateLog.Warn("could not read migration version", slog.Any("err", err))
		return nil
	case dirty:
		return fmt.Errorf("schema dirty at version %d: manual fix required", version)
	}
	migrateLog.Info(msg, slog.Uint64("version", uint64(version)))
	return nil
}

// GetMigrationVersion reports the applied version. An unmigrated database
// reports version 0.
func GetMigrationVersion(db *sql.DB) (version uint, dirty bool, err error) {
	m, err := newMigrator(db)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}
