// Package sqlstore implements hostauth.CredentialStore on a relational
// database through sqlx.
//
// Supported drivers are "sqlite" (modernc.org/sqlite), "postgres"
// (github.com/lib/pq), "pgx" (github.com/jackc/pgx/v5/stdlib) and "mysql"
// (github.com/go-sql-driver/mysql). Timestamps are stored as Unix
// milliseconds so the same queries run unchanged on every dialect.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
	dialectMySQL
)

func (d dialect) String() string {
	switch d {
	case dialectPostgres:
		return "postgres"
	case dialectMySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

func dialectOf(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite":
		return dialectSQLite, nil
	case "postgres", "pgx":
		return dialectPostgres, nil
	case "mysql":
		return dialectMySQL, nil
	}
	return 0, fmt.Errorf("sqlstore: unsupported driver %q", driver)
}

// Config selects the driver and pool sizing.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// PingTimeout bounds the connectivity check in Open.
	PingTimeout time.Duration
}

// Store is a CredentialStore backed by *sqlx.DB. It is safe for
// concurrent use.
type Store struct {
	db      *sqlx.DB
	dialect dialect
}

// Open connects, applies pool settings and pings the database. For sqlite
// the DSN may be a bare file path; its directory is created and a busy
// timeout is added.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := dialectOf(cfg.Driver)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if d == dialectSQLite {
		dsn, err = sqliteDSN(dsn)
		if err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open(strings.ToLower(cfg.Driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	switch {
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	case d == dialectSQLite:
		// sqlite has a single writer; one connection avoids SQLITE_BUSY
		// on transaction upgrade.
		db.SetMaxOpenConns(1)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}

	return &Store{db: db, dialect: d}, nil
}

// New wraps an existing connection whose driver name is one of the
// supported drivers.
func New(db *sqlx.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: nil db")
	}
	d, err := dialectOf(db.DriverName())
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: d}, nil
}

func sqliteDSN(dsn string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return "", errors.New("sqlstore: sqlite DSN required")
	}
	if strings.HasPrefix(dsn, "file:") || strings.Contains(dsn, ":memory:") {
		return dsn, nil
	}
	if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
		return "", fmt.Errorf("sqlstore: mkdir db dir: %w", err)
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", dsn), nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind converts '?' placeholders for the store's driver.
func (s *Store) rebind(q string) string {
	return s.db.Rebind(q)
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
