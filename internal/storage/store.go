package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"drover/internal/config"
)

// DB is the SQLite database shared by the supervisor, its workers and the CLI.
type DB struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open initializes or connects to the database named by the configuration.
func Open(cfg *config.Config) (*DB, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.QueueDBPath())
}

// OpenPath opens the database at an explicit path.
func OpenPath(dbPath string) (*DB, error) {
	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}
	store := &DB{db: conn, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return store, nil
}

func openConn(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	for _, pragma := range pragmas {
		if _, execErr := conn.Exec(pragma); execErr != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	return conn, nil
}

// Path returns the database file location.
func (d *DB) Path() string {
	return d.path
}

// Reconnect replaces the connection pool with a fresh one. Long sleeps in the
// supervisor may outlive file handles invalidated by external maintenance.
func (d *DB) Reconnect() error {
	fresh, err := openConn(d.path)
	if err != nil {
		return err
	}
	d.mu.Lock()
	old := d.db
	d.db = fresh
	d.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Ping verifies the connection is usable.
func (d *DB) Ping(ctx context.Context) error {
	return d.conn().PingContext(ensureContext(ctx))
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	return err
}

func (d *DB) conn() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// withConn runs op against the current pool, retrying while SQLite reports the
// database busy. An op that lost its pool to a concurrent Reconnect runs once
// more on the replacement.
func (d *DB) withConn(ctx context.Context, op func(*sql.DB) error) error {
	return retryOnBusy(ctx, func() error {
		pool := d.conn()
		err := op(pool)
		if isPoolClosed(err) {
			if fresh := d.conn(); fresh != nil && fresh != pool {
				return op(fresh)
			}
		}
		return err
	})
}

// isPoolClosed matches the error database/sql returns once Close ran on a pool.
func isPoolClosed(err error) bool {
	return err != nil && strings.Contains(err.Error(), "sql: database is closed")
}

// Exec runs a statement, retrying while SQLite reports the database busy.
func (d *DB) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var res sql.Result
	err := d.withConn(ctx, func(pool *sql.DB) error {
		var execErr error
		res, execErr = pool.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Query runs a read query, retrying while SQLite reports the database busy.
// The caller must close the returned rows.
func (d *DB) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	ctx = ensureContext(ctx)
	var rows *sql.Rows
	err := d.withConn(ctx, func(pool *sql.DB) error {
		var queryErr error
		rows, queryErr = pool.QueryContext(ctx, query, args...)
		return queryErr
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// QueryRow runs a single-row query and scans it into dest.
func (d *DB) QueryRow(ctx context.Context, dest []any, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return d.withConn(ctx, func(pool *sql.DB) error {
		return pool.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
}

// RowsAffected runs a statement and reports how many rows it changed.
func (d *DB) RowsAffected(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := d.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return affected, nil
}
