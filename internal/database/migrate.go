package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrations embed.FS

// Migrate brings the schema at dsn up to date. It uses its own connection,
// which is closed before returning.
func Migrate(driver, dsn string) error {
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}

	var drv migratedb.Driver
	switch driver {
	case DriverPostgres:
		drv, err = postgres.WithInstance(conn, &postgres.Config{})
	case DriverSqlite:
		drv, err = sqlite3.WithInstance(conn, &sqlite3.Config{})
	default:
		err = fmt.Errorf("unsupported driver %q", driver)
	}
	if err != nil {
		conn.Close()
		return fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(migrations, "migrations/"+driver)
	if err != nil {
		conn.Close()
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driver, drv)
	if err != nil {
		conn.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}
