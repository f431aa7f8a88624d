package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"
)

func TestWithConnSurvivesConcurrentReconnect(t *testing.T) {
	db, err := OpenPath(filepath.Join(t.TempDir(), "drover.db"))
	if err != nil {
		t.Fatalf("OpenPath failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	calls := 0
	err = db.withConn(ctx, func(pool *sql.DB) error {
		calls++
		if calls == 1 {
			// Another goroutine swaps the pool after this one picked it up.
			if err := db.Reconnect(); err != nil {
				t.Fatalf("Reconnect failed: %v", err)
			}
		}
		_, err := pool.ExecContext(ctx,
			"INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)", "reconnect_key", "v", Stamp(time.Now()))
		return err
	})
	if err != nil {
		t.Fatalf("withConn failed across reconnect: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected one retry on the fresh pool, got %d calls", calls)
	}
	value, ok, err := db.GetSetting(ctx, "reconnect_key")
	if err != nil || !ok || value != "v" {
		t.Fatalf("GetSetting = %q, %v, %v", value, ok, err)
	}
}

func TestIsPoolClosed(t *testing.T) {
	pool, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	_ = pool.Close()
	_, err = pool.Exec("SELECT 1")
	if !isPoolClosed(err) {
		t.Fatalf("expected closed pool error, got %v", err)
	}
	if isPoolClosed(nil) {
		t.Fatal("nil error reported as closed pool")
	}
}
