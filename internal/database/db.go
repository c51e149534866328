package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Dialect identifies the SQL engine behind a DB
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite3"
}

// Options configures a database connection
type Options struct {
	// URL is either a postgres:// URL or a SQLite file path
	URL          string
	MaxOpenConns int
	BusyTimeout  time.Duration
}

// DB wraps the sql.DB connection
type DB struct {
	Conn    *sql.DB
	Dialect Dialect
	logger  *zap.Logger
}

// ParseURL picks the dialect for url and returns the DSN to hand to the driver
func ParseURL(url string, busyTimeout time.Duration) (Dialect, string) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return Postgres, url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	// BEGIN IMMEDIATE takes the write lock before the first read of a transaction
	dsn := fmt.Sprintf("%s%s_txlock=immediate&_busy_timeout=%d&_foreign_keys=on", url, sep, busyTimeout.Milliseconds())
	return SQLite, dsn
}

// New creates a new database connection and bootstraps the schema
func New(ctx context.Context, opts Options, logger *zap.Logger) (*DB, error) {
	dialect, dsn := ParseURL(opts.URL, opts.BusyTimeout)

	driver := "sqlite3"
	if dialect == Postgres {
		driver = "postgres"
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	maxOpen := opts.MaxOpenConns
	if dialect == SQLite && strings.HasPrefix(opts.URL, ":memory:") {
		// every connection to :memory: is a separate database
		maxOpen = 1
	}
	if maxOpen > 0 {
		conn.SetMaxOpenConns(maxOpen)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}

	db := &DB{Conn: conn, Dialect: dialect, logger: logger}

	if err := db.bootstrap(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to bootstrap schema")
	}

	logger.Info("database initialized", zap.String("dialect", dialect.String()))
	return db, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS contacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    phone_number TEXT,
    email TEXT,
    linked_id INTEGER,
    link_precedence TEXT NOT NULL CHECK(link_precedence IN ('primary', 'secondary')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME,
    CHECK (email IS NOT NULL OR phone_number IS NOT NULL),
    CHECK ((link_precedence = 'primary') = (linked_id IS NULL)),
    FOREIGN KEY (linked_id) REFERENCES contacts(id)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS contacts (
    id BIGSERIAL PRIMARY KEY,
    phone_number TEXT,
    email TEXT,
    linked_id BIGINT REFERENCES contacts(id),
    link_precedence TEXT NOT NULL CHECK(link_precedence IN ('primary', 'secondary')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at TIMESTAMPTZ,
    CHECK (email IS NOT NULL OR phone_number IS NOT NULL),
    CHECK ((link_precedence = 'primary') = (linked_id IS NULL))
);
`

const indexes = `
CREATE INDEX IF NOT EXISTS idx_phone ON contacts(phone_number);
CREATE INDEX IF NOT EXISTS idx_email ON contacts(email);
CREATE INDEX IF NOT EXISTS idx_linked_id ON contacts(linked_id);
CREATE UNIQUE INDEX IF NOT EXISTS uq_contacts_pair
    ON contacts (COALESCE(email, ''), COALESCE(phone_number, ''))
    WHERE deleted_at IS NULL;
`

// bootstrap creates the contacts table and its indexes if they are missing
func (db *DB) bootstrap(ctx context.Context) error {
	schema := sqliteSchema
	if db.Dialect == Postgres {
		schema = postgresSchema
	}
	if _, err := db.Conn.ExecContext(ctx, schema+indexes); err != nil {
		return errors.Wrap(err, "failed to execute schema")
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.Conn.Close()
}

// classify maps driver errors onto ErrConflict or ErrUnavailable
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
