package wake

import (
	"context"
	"fmt"
	"log/slog"

	"drover/internal/config"
	"drover/internal/storage"
)

// Signal is a cross-process pending flag.
type Signal interface {
	Raise(ctx context.Context) error
	Pending(ctx context.Context) (bool, error)
	Clear(ctx context.Context) error
}

// Notifier is implemented by backends that can push changes instead of
// being polled.
type Notifier interface {
	// Notify delivers a value whenever the flag may have been raised.
	Notify() <-chan struct{}
	// Watch runs the change watcher until ctx ends.
	Watch(ctx context.Context) error
}

// New builds the backend selected in cfg.
func New(cfg *config.Config, db *storage.DB, logger *slog.Logger) (Signal, error) {
	switch cfg.Wake.Backend {
	case "", "store":
		return NewStore(db), nil
	case "file":
		return NewFile(cfg.WakeFilePath(), logger), nil
	default:
		return nil, fmt.Errorf("wake backend: unsupported value %q", cfg.Wake.Backend)
	}
}
