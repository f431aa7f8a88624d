package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"drover/internal/storage"
)

// Process descriptors stored in the command column.
const (
	CommandDaemon  = "daemon"
	CommandWorker  = "worker"
	// CommandSpawner marks a one-shot `worker -s` dispatcher.
	CommandSpawner = "spawner"
)

// Process is one registry row.
type Process struct {
	PID         int
	Command     string
	SessionID   string
	StartedAt   time.Time
	HeartbeatAt time.Time
}

// Registry reads and writes the processes table.
type Registry struct {
	db  *storage.DB
	now func() time.Time
}

// New returns a registry backed by db.
func New(db *storage.DB) *Registry {
	return &Registry{db: db, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// NewSessionID returns a fresh process session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// Insert registers pid. An existing row for pid is left untouched and
// reported as not inserted.
func (r *Registry) Insert(ctx context.Context, pid int, command, sessionID string) (bool, error) {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	now := storage.Stamp(r.now())
	affected, err := r.db.RowsAffected(ctx,
		`INSERT INTO processes (pid, command, session_id, started_at, heartbeat_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT(pid) DO NOTHING`,
		pid, command, sessionID, now, now)
	if err != nil {
		return false, fmt.Errorf("insert process %d: %w", pid, err)
	}
	return affected > 0, nil
}

// DeleteByPID removes pid. Deleting a missing pid is not an error.
func (r *Registry) DeleteByPID(ctx context.Context, pid int) error {
	if _, err := r.db.Exec(ctx, "DELETE FROM processes WHERE pid = ?", pid); err != nil {
		return fmt.Errorf("delete process %d: %w", pid, err)
	}
	return nil
}

// DeleteIfStale removes pid only while its heartbeat is still older than
// cutoff, so a worker that recovered in the meantime keeps its row.
func (r *Registry) DeleteIfStale(ctx context.Context, pid int, cutoff time.Time) (bool, error) {
	affected, err := r.db.RowsAffected(ctx,
		"DELETE FROM processes WHERE pid = ? AND heartbeat_at < ?", pid, storage.Stamp(cutoff))
	if err != nil {
		return false, fmt.Errorf("delete stale process %d: %w", pid, err)
	}
	return affected > 0, nil
}

// Heartbeat refreshes heartbeat_at for pid.
func (r *Registry) Heartbeat(ctx context.Context, pid int) error {
	if _, err := r.db.Exec(ctx, "UPDATE processes SET heartbeat_at = ? WHERE pid = ?", storage.Stamp(r.now()), pid); err != nil {
		return fmt.Errorf("heartbeat process %d: %w", pid, err)
	}
	return nil
}

// Exists reports whether pid has a row.
func (r *Registry) Exists(ctx context.Context, pid int) (bool, error) {
	var count int
	if err := r.db.QueryRow(ctx, []any{&count}, "SELECT COUNT(1) FROM processes WHERE pid = ?", pid); err != nil {
		return false, fmt.Errorf("lookup process %d: %w", pid, err)
	}
	return count > 0, nil
}

// Count returns the number of rows with the given command. An empty command
// counts every row.
func (r *Registry) Count(ctx context.Context, command string) (int, error) {
	query := "SELECT COUNT(1) FROM processes"
	var args []any
	if command != "" {
		query += " WHERE command = ?"
		args = append(args, command)
	}
	var count int
	if err := r.db.QueryRow(ctx, []any{&count}, query, args...); err != nil {
		return 0, fmt.Errorf("count processes: %w", err)
	}
	return count, nil
}

// List returns every row ordered by start time.
func (r *Registry) List(ctx context.Context) ([]Process, error) {
	return r.query(ctx, "SELECT pid, command, session_id, started_at, heartbeat_at FROM processes ORDER BY started_at, pid")
}

// Stale returns rows whose heartbeat is older than cutoff.
func (r *Registry) Stale(ctx context.Context, cutoff time.Time) ([]Process, error) {
	return r.query(ctx,
		"SELECT pid, command, session_id, started_at, heartbeat_at FROM processes WHERE heartbeat_at < ? ORDER BY pid",
		storage.Stamp(cutoff))
}

func (r *Registry) query(ctx context.Context, query string, args ...any) ([]Process, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	var out []Process
	for rows.Next() {
		var (
			p         Process
			started   int64
			heartbeat int64
		)
		if err := rows.Scan(&p.PID, &p.Command, &p.SessionID, &started, &heartbeat); err != nil {
			return nil, fmt.Errorf("scan process: %w", err)
		}
		p.StartedAt = storage.FromStamp(started)
		p.HeartbeatAt = storage.FromStamp(heartbeat)
		out = append(out, p)
	}
	return out, rows.Err()
}
