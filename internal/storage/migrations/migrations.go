// Package migrations applies the embedded schema migrations with
// golang-migrate. Each dialect has its own directory of numbered files.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/R3E-Network/loyalty_layer/internal/logging"
)

//go:embed postgres/*.sql sqlite3/*.sql
var files embed.FS

// DatabaseURL converts a driver name and DSN into the URL form
// golang-migrate expects.
func DatabaseURL(driver, dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", fmt.Errorf("migrations: dsn is required")
	}
	switch driver {
	case "postgres":
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			return dsn, nil
		}
		return "", fmt.Errorf("migrations: postgres dsn must be a postgres:// URL")
	case "sqlite3":
		if strings.HasPrefix(dsn, "sqlite3://") {
			return dsn, nil
		}
		return "sqlite3://" + strings.TrimPrefix(dsn, "file:"), nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

// New returns a migrator for the dialect. golang-migrate opens its own
// connection so closing the migrator never affects a running store.
func New(driver, dsn string, log *logging.Logger) (*migrate.Migrate, error) {
	url, err := DatabaseURL(driver, dsn)
	if err != nil {
		return nil, err
	}
	src, err := iofs.New(files, driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: open source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, url)
	if err != nil {
		return nil, fmt.Errorf("migrations: init: %w", err)
	}
	if log != nil {
		m.Log = migrateLogger{log: log}
	}
	return m, nil
}

// Up applies every pending migration.
func Up(driver, dsn string, log *logging.Logger) error {
	m, err := New(driver, dsn, log)
	if err != nil {
		return err
	}
	defer closeMigrator(m)
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}

// Down rolls back steps migrations, or all of them when steps <= 0.
func Down(driver, dsn string, steps int, log *logging.Logger) error {
	m, err := New(driver, dsn, log)
	if err != nil {
		return err
	}
	defer closeMigrator(m)
	if steps <= 0 {
		err = m.Down()
	} else {
		err = m.Steps(-steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: down: %w", err)
	}
	return nil
}

// Version reports the applied schema version. A database without any
// applied migration reports version 0.
func Version(driver, dsn string) (uint, bool, error) {
	m, err := New(driver, dsn, nil)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(m)
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrations: version: %w", err)
	}
	return v, dirty, nil
}

func closeMigrator(m *migrate.Migrate) {
	_, _ = m.Close()
}

type migrateLogger struct {
	log *logging.Logger
}

func (l migrateLogger) Printf(format string, v ...interface{}) {
	l.log.Infof("migrate: "+strings.TrimRight(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool { return false }
