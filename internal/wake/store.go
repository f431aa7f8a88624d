package wake

import (
	"context"
	"fmt"
	"time"

	"drover/internal/storage"
)

// workExistsKey is the single row the store backend uses.
const workExistsKey = 0

// Store keeps the flag in the wake_signal table.
type Store struct {
	db *storage.DB
}

// NewStore returns a database-backed signal.
func NewStore(db *storage.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Raise(ctx context.Context) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO wake_signal (key, pending, raised_at) VALUES (?, 1, ?)
		 ON CONFLICT(key) DO UPDATE SET pending = 1, raised_at = excluded.raised_at`,
		workExistsKey, storage.Stamp(time.Now()))
	if err != nil {
		return fmt.Errorf("raise wake signal: %w", err)
	}
	return nil
}

func (s *Store) Pending(ctx context.Context) (bool, error) {
	var pending int
	err := s.db.QueryRow(ctx, []any{&pending},
		"SELECT COALESCE(MAX(pending), 0) FROM wake_signal WHERE key = ?", workExistsKey)
	if err != nil {
		return false, fmt.Errorf("read wake signal: %w", err)
	}
	return pending != 0, nil
}

func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "UPDATE wake_signal SET pending = 0 WHERE key = ?", workExistsKey); err != nil {
		return fmt.Errorf("clear wake signal: %w", err)
	}
	return nil
}
