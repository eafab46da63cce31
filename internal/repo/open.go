package repo

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

//go:embed migrations
var migrationsFS embed.FS

// Open connects to the configured database and applies pending migrations.
// For SQLite the dsn is a file path.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	if err := Migrate(driver, dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open(sqlDriverName(driver), connString(driver, dsn))
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// SQLite prefers a single writer.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return db, nil
}

// Migrate runs the embedded migrations on a dedicated connection, since the
// migrate drivers close the handle they are given.
func Migrate(driver Driver, dsn string) error {
	if driver == DriverSQLite {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
	}

	db, err := sql.Open(sqlDriverName(driver), connString(driver, dsn))
	if err != nil {
		return err
	}

	var (
		dbDriver database.Driver
		subdir   string
	)
	switch driver {
	case DriverPostgres:
		dbDriver, err = migratepgx.WithInstance(db, &migratepgx.Config{})
		subdir = "migrations/postgres"
	case DriverSQLite:
		dbDriver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
		subdir = "migrations/sqlite"
	default:
		err = fmt.Errorf("unsupported store driver %q", driver)
	}
	if err != nil {
		_ = db.Close()
		return err
	}

	src, err := iofs.New(migrationsFS, subdir)
	if err != nil {
		_ = db.Close()
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, string(driver), dbDriver)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate %s: %w", driver, err)
	}
	return nil
}

func sqlDriverName(driver Driver) string {
	if driver == DriverPostgres {
		return "pgx"
	}
	return "sqlite3"
}

func connString(driver Driver, dsn string) string {
	if driver == DriverPostgres {
		return dsn
	}
	return "file:" + dsn + "?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL"
}
