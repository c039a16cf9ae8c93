// Package sqlstore implements the storage interfaces on PostgreSQL or SQLite
// through sqlx. Queries are written with ? placeholders and rebound for the
// active driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/R3E-Network/loyalty_layer/internal/storage"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// sqliteTimeLayout is fixed width so stored timestamps sort and compare
// lexicographically in SQLite.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// Options tunes the connection pool. Zero values keep driver defaults.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the SQL-backed implementation of storage.Store.
type Store struct {
	db     *sqlx.DB
	driver string
}

var _ storage.Store = (*Store)(nil)

// Open connects to the database and verifies the connection. The schema must
// already be migrated.
func Open(ctx context.Context, driver, dsn string, opts Options) (*Store, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: connect: %w", err)
	}
	return &Store{db: db, driver: driver}, nil
}

// New wraps an existing connection. driver selects the placeholder style.
func New(db *sqlx.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// sqliteDSN appends the pragmas every connection needs as DSN parameters so
// they survive reconnects.
func sqliteDSN(dsn string) string {
	params := []string{
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_busy_timeout=5000",
		"_foreign_keys=on",
	}
	var missing []string
	for _, p := range params {
		key := p[:strings.Index(p, "=")+1]
		if !strings.Contains(dsn, key) {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(missing, "&")
}

func (s *Store) q(query string) string {
	return s.db.Rebind(query)
}

// timeArg encodes t for the active driver.
func (s *Store) timeArg(t time.Time) interface{} {
	t = t.UTC()
	if s.driver == DriverSQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}
