package wake_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"drover/internal/logging"
	"drover/internal/testsupport"
	"drover/internal/wake"
)

func exerciseSignal(t *testing.T, sig wake.Signal) {
	t.Helper()
	ctx := context.Background()

	pending, err := sig.Pending(ctx)
	if err != nil || pending {
		t.Fatalf("expected fresh signal clear, pending=%v err=%v", pending, err)
	}
	if err := sig.Raise(ctx); err != nil {
		t.Fatalf("Raise failed: %v", err)
	}
	if err := sig.Raise(ctx); err != nil {
		t.Fatalf("second Raise failed: %v", err)
	}
	pending, err = sig.Pending(ctx)
	if err != nil || !pending {
		t.Fatalf("expected pending after raise, pending=%v err=%v", pending, err)
	}
	if err := sig.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := sig.Clear(ctx); err != nil {
		t.Fatalf("second Clear failed: %v", err)
	}
	pending, err = sig.Pending(ctx)
	if err != nil || pending {
		t.Fatalf("expected clear after Clear, pending=%v err=%v", pending, err)
	}
}

func TestStoreSignal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	sig, err := wake.New(cfg, testsupport.MustOpenStore(t, cfg), logging.NewNop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := sig.(*wake.Store); !ok {
		t.Fatalf("expected store backend, got %T", sig)
	}
	exerciseSignal(t, sig)
}

func TestFileSignal(t *testing.T) {
	exerciseSignal(t, wake.NewFile(filepath.Join(t.TempDir(), "wake", "flag"), logging.NewNop()))
}

func TestFileSignalSharedAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flag")
	producer := wake.NewFile(path, nil)
	consumer := wake.NewFile(path, nil)
	ctx := context.Background()

	if err := producer.Raise(ctx); err != nil {
		t.Fatalf("Raise failed: %v", err)
	}
	pending, err := consumer.Pending(ctx)
	if err != nil || !pending {
		t.Fatalf("consumer did not see raise, pending=%v err=%v", pending, err)
	}
}

func TestFileWatchNotifiesOnRaise(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flag")
	sig := wake.NewFile(path, logging.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- sig.Watch(ctx) }()

	// Raise repeatedly until the watcher is attached and reports it.
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-sig.Notify():
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch returned error: %v", err)
			}
			return
		case <-ticker.C:
			if err := sig.Raise(context.Background()); err != nil {
				t.Fatalf("Raise failed: %v", err)
			}
		case <-deadline:
			t.Fatal("timed out waiting for wake notification")
		}
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Wake.Backend = "redis"
	if _, err := wake.New(cfg, nil, nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
