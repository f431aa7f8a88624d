package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestTagHandlerAddsSession(t *testing.T) {
	var buf bytes.Buffer
	handler := newTagHandler(slog.NewJSONHandler(&buf, nil), "test-session-123")

	slog.New(handler).With("extra", "value").Info("test message")

	output := buf.String()
	if !strings.Contains(output, `"session_id":"test-session-123"`) {
		t.Errorf("expected session_id in output, got: %s", output)
	}
	if !strings.Contains(output, `"extra":"value"`) {
		t.Errorf("expected extra attr in output, got: %s", output)
	}
}

func TestTagHandlerAddsJobFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newTagHandler(slog.NewJSONHandler(&buf, nil), ""))
	ctx := WithJob(context.Background(), 7, "noop")

	logger.InfoContext(ctx, "from context")
	if out := buf.String(); !strings.Contains(out, `"job_id":7`) || !strings.Contains(out, `"command":"noop"`) {
		t.Fatalf("expected job fields from context, got: %s", out)
	}
	if strings.Contains(buf.String(), "session_id") {
		t.Fatalf("empty session id should not be written, got: %s", buf.String())
	}

	buf.Reset()
	WithContext(ctx, logger).InfoContext(ctx, "bound")
	if n := strings.Count(buf.String(), `"job_id"`); n != 1 {
		t.Fatalf("expected job_id once, got %d in: %s", n, buf.String())
	}
}

func TestTagHandlerNilBase(t *testing.T) {
	if _, ok := newTagHandler(nil, "session-123").(noopHandler); !ok {
		t.Error("expected noopHandler when base is nil")
	}
}
