package store

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"gatekeeper/internal/errors"
)

//go:embed migrations
var migrationsFS embed.FS

// Driver names a SQL backend.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// sqlDriver is the database/sql driver name registered for d.
func (d Driver) sqlDriver() string {
	switch d {
	case DriverPostgres:
		return "pgx"
	case DriverMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

// migrateUp applies every pending migration for d. The migrate instance is
// not closed because closing it would close db.
func migrateUp(db *sql.DB, d Driver) error {
	var (
		driver database.Driver
		err    error
	)
	switch d {
	case DriverSQLite:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case DriverPostgres:
		driver, err = migratepostgres.WithInstance(db, &migratepostgres.Config{})
	case DriverMySQL:
		driver, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	default:
		return errors.NewConfigurationError(fmt.Sprintf("unsupported driver %q", d), nil)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s migrate driver: %w", d, err)
	}

	sub, err := fs.Sub(migrationsFS, "migrations/"+string(d))
	if err != nil {
		return fmt.Errorf("failed to access migrations directory: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, string(d), driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read migration version: %w", err)
	}
	if dirty {
		return errors.NewConfigurationError(fmt.Sprintf("database is in a dirty state at version %d", version), nil).
			WithHint("fix the schema manually and force the version with the migrate CLI")
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate to latest version: %w", err)
	}
	return nil
}
