package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"

	"drover/internal/logging"
)

const (
	watchRestartBase = 250 * time.Millisecond
	watchRestartMax  = 10 * time.Second
)

// File keeps the flag as the existence of a file, and can watch its
// directory so a sleeping supervisor wakes as soon as the file appears.
type File struct {
	path   string
	notify chan struct{}
	logger *slog.Logger
}

// NewFile returns a flag-file signal at path.
func NewFile(path string, logger *slog.Logger) *File {
	return &File{
		path:   path,
		notify: make(chan struct{}, 1),
		logger: logging.NewComponentLogger(logger, "wake"),
	}
}

// Path returns the flag file location.
func (f *File) Path() string { return f.path }

func (f *File) Raise(context.Context) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("raise wake signal: %w", err)
	}
	stamp := strconv.FormatInt(time.Now().UnixNano(), 10) + "\n"
	if err := os.WriteFile(f.path, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("raise wake signal: %w", err)
	}
	return nil
}

func (f *File) Pending(context.Context) (bool, error) {
	_, err := os.Stat(f.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("read wake signal: %w", err)
}

func (f *File) Clear(context.Context) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear wake signal: %w", err)
	}
	return nil
}

func (f *File) Notify() <-chan struct{} { return f.notify }

func (f *File) poke() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// Watch follows the flag file's directory until ctx ends. A broken watcher
// is recreated with a capped backoff.
func (f *File) Watch(ctx context.Context) error {
	dir := filepath.Dir(f.path)
	name := filepath.Base(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("wake watch dir: %w", err)
	}

	backoff := watchRestartBase
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := f.watchOnce(ctx, dir, name); err != nil {
			f.logger.Warn("wake watcher stopped; restarting",
				logging.Error(err),
				logging.String("dir", dir),
				logging.Duration("backoff", backoff),
				logging.String(logging.FieldEventType, "wake_watch_restart"),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > watchRestartMax {
			backoff = watchRestartMax
		}
	}
}

func (f *File) watchOnce(ctx context.Context, dir, name string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	// The flag may have been raised before the watch was in place.
	if pending, _ := f.Pending(ctx); pending {
		f.poke()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("event channel closed")
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				f.poke()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("error channel closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				f.poke()
				continue
			}
			return err
		}
	}
}
