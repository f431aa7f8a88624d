package logging_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"drover/internal/config"
	"drover/internal/logging"
)

func TestNewFromConfigWritesSharedLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()

	logger, err := logging.NewFromConfig(&cfg, "session-1")
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("hello from test")

	content, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(content), "hello from test") {
		t.Fatalf("expected message in log file, got %q", content)
	}
	if !strings.Contains(string(content), "session_id=session-1") {
		t.Fatalf("expected session id in log file, got %q", content)
	}
}

func TestConsoleLoggerOmitsCallerForInfo(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-info.log")
	logger, err := logging.New(logging.Options{
		Format:           "console",
		Level:            "info",
		OutputPaths:      []string{logPath},
		ErrorOutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("message without caller")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", content)
	}
}

func TestConsoleLoggerRendersJobSubject(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console-job.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := logging.WithJob(context.Background(), 42, "SendMail")
	scoped := logging.WithContext(ctx, logging.NewComponentLogger(logger, "worker"))
	scoped.Info("job finished", logging.Error(errors.New("boom")))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "[worker] Job #42 (SendMail) – job finished") {
		t.Fatalf("unexpected console header: %q", line)
	}
	if !strings.Contains(line, "error=boom") {
		t.Fatalf("expected error attr, got %q", line)
	}
}

func TestJSONLoggerUsesShortKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json.log")
	logger, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "debug",
		OutputPaths: []string{logPath},
		SessionID:   "abc",
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Debug("structured", logging.Int64(logging.FieldJobID, 7))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for _, want := range []string{`"ts":`, `"level":"debug"`, `"msg":"structured"`, `"job_id":7`, `"session_id":"abc"`, `"source":"logger_test.go:`} {
		if !strings.Contains(string(content), want) {
			t.Fatalf("expected %s in %q", want, content)
		}
	}
}

func TestJSONLoggerTagsJobFromContext(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "json-job.log")
	logger, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := logging.WithJob(context.Background(), 12, "SendMail")
	logger.InfoContext(ctx, "job started")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	for _, want := range []string{`"job_id":12,`, `"command":"SendMail"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %s in %q", want, line)
		}
	}
	start := strings.Index(line, `"ts":"`) + len(`"ts":"`)
	ts := line[start : start+strings.Index(line[start:], `"`)]
	if _, err := time.Parse("2006-01-02T15:04:05.000000Z07:00", ts); err != nil || !strings.HasSuffix(ts, "Z") {
		t.Fatalf("expected UTC microsecond timestamp, got %q (%v)", ts, err)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestRotateAndPruneLogs(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, logging.LogFileName)
	if err := os.WriteFile(active, []byte("old run\n"), 0o644); err != nil {
		t.Fatalf("write active log: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	archived, err := logging.RotateLog(dir, now)
	if err != nil {
		t.Fatalf("RotateLog failed: %v", err)
	}
	if archived == "" {
		t.Fatal("expected archive path")
	}
	if _, err := os.Stat(active); !os.IsNotExist(err) {
		t.Fatalf("expected active log moved, stat err=%v", err)
	}

	stale := now.AddDate(0, 0, -40)
	if err := os.Chtimes(archived, stale, stale); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	fresh := filepath.Join(dir, "drover-recent.log")
	if err := os.WriteFile(fresh, []byte("x"), 0o644); err != nil {
		t.Fatalf("write fresh log: %v", err)
	}
	if err := os.Chtimes(fresh, now, now); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed := logging.PruneLogs(logging.NewNop(), dir, "drover-*.log", logging.LogFileName, 30, now)
	if removed != 1 {
		t.Fatalf("expected one pruned file, got %d", removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected fresh log kept: %v", err)
	}
}
