// Package store provides the embedded sqlite persistence layer backing
// every table enumerated in spec §6 ("Persisted state layout").
package store

import (
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/opsgovernor/governor/internal/config"
)

// Open creates the home directory if needed, opens the sqlite database,
// and applies migrations when MigrateOnStart is set — the embedded-store
// analogue of the teacher's Postgres bootstrap in cmd/appserver.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create home dir: %w", err)
	}
	path := cfg.Path()
	db, err := sqlx.Connect("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if cfg.MigrateOnStart {
		if err := migrateUp(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return db, nil
}

// migrateUp applies every migration under migrations/ (embedded at build
// time) using golang-migrate's sqlite3 driver.
func migrateUp(db *sqlx.DB) error {
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
