// Package store is the relational store for the catalog: connection setup for
// SQLite and PostgreSQL, schema migrations, and the row-level queries the
// ingest pipeline builds on.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "modernc.org/sqlite"
)

const defaultBusyTimeout = 5 * time.Second

// Queryer is satisfied by both *DB and *Tx. Queries use "?" placeholders and
// are rewritten for the active dialect.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Dialect() Dialect
}

// Options selects and configures the backing database.
type Options struct {
	Driver      string // "sqlite" or "postgres"
	DSN         string
	BusyTimeout time.Duration // SQLite only
}

// DB is a dialect-aware database handle.
type DB struct {
	db      *sql.DB
	dialect Dialect
	dsn     string
}

// Open connects to the database described by opts and verifies the
// connection.
func Open(ctx context.Context, opts Options) (*DB, error) {
	dialect, err := ParseDialect(opts.Driver)
	if err != nil {
		return nil, err
	}

	var (
		driverName string
		dsn        string
	)
	switch dialect {
	case Postgres:
		driverName, dsn = "pgx", opts.DSN
	default:
		driverName, dsn = "sqlite", sqliteDSN(opts.DSN, opts.BusyTimeout)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == SQLite {
		// One writer connection; cross-process contention is handled by
		// busy_timeout and the retrier.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect, err)
	}

	slog.Debug("Opened store", "driver", dialect.String())
	return &DB{db: db, dialect: dialect, dsn: dsn}, nil
}

// sqliteDSN builds a modernc.org/sqlite DSN with WAL, foreign keys and a
// busy timeout. DSNs that already use the file: form are passed through.
func sqliteDSN(path string, busyTimeout time.Duration) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	if busyTimeout <= 0 {
		busyTimeout = defaultBusyTimeout
	}
	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)",
		path, busyTimeout.Milliseconds())
}

// Dialect returns the SQL dialect of the connection.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// Close closes the connection pool.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.db.ExecContext(ctx, d.dialect.Rebind(query), args...)
}

func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, d.dialect.Rebind(query), args...)
}

func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.db.QueryRowContext(ctx, d.dialect.Rebind(query), args...)
}

// Tx is a dialect-aware transaction.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *Tx) Dialect() Dialect {
	return t.dialect
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

// InTx runs fn in a transaction. It commits when fn returns nil and rolls
// back otherwise. The error from fn is returned unwrapped so callers can
// classify it.
func (d *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback if we don't commit - ignore errors as they're expected if transaction was committed
		_ = sqlTx.Rollback()
	}()

	if err := fn(&Tx{tx: sqlTx, dialect: d.dialect}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
