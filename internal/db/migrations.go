package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"strings"

	btclog "github.com/btcsuite/btclog/v2"
	"github.com/golang-migrate/migrate/v4"
	migsqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
)

// LatestMigrationVersion is the latest migration version of the database.
//
// NOTE: This MUST be updated when a new migration is added.
const LatestMigrationVersion uint = 1

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationLogger adapts a btclog.Logger to the migrate.Logger interface.
type migrationLogger struct {
	log btclog.Logger
}

// Printf implements the migrate.Logger interface.
func (m *migrationLogger) Printf(format string, v ...any) {
	m.log.Infof(strings.TrimRight(format, "\n"), v...)
}

// Verbose returns true when verbose logging is enabled.
func (m *migrationLogger) Verbose() bool {
	return true
}

// ApplyMigrations brings the database schema up to the latest version using
// the embedded migration files. Databases newer than the latest known
// migration are rejected to prevent accidental downgrades.
func ApplyMigrations(db *sql.DB, log btclog.Logger) error {
	driver, err := migsqlite.WithInstance(db, &migsqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	src, err := httpfs.New(http.FS(migrationsFS), "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	sqlMigrate, err := migrate.NewWithInstance(
		"migrations", src, "sqlite3", driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w",
			err)
	}
	sqlMigrate.Log = &migrationLogger{log: log}

	version, dirty, err := sqlMigrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("unable to determine current migration "+
			"version: %w", err)
	}

	// A dirty version means a previous migration did not complete and
	// needs manual intervention before we touch the schema again.
	if dirty {
		return fmt.Errorf("database is in a dirty state at version "+
			"%v, manual intervention required", version)
	}

	if uint(version) > LatestMigrationVersion {
		return fmt.Errorf("database version %d is newer than the "+
			"latest known migration %d, preventing downgrade",
			version, LatestMigrationVersion)
	}

	err = sqlMigrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	log.Infof("Database schema at version %d", LatestMigrationVersion)

	return nil
}
