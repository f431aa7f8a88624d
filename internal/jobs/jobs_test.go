package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"drover/internal/config"
	"drover/internal/jobs"
	"drover/internal/queue"
)

func params(t *testing.T, values ...any) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, 0, len(values))
	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal %v: %v", v, err)
		}
		out = append(out, raw)
	}
	return out
}

func TestRegistryResolvesRegisteredHandlers(t *testing.T) {
	r := jobs.NewRegistry()
	called := false
	if err := r.Register("SendMail", jobs.HandlerFunc(func(_ context.Context, inv jobs.Invocation) error {
		called = inv.JobID == 7
		return nil
	})); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := r.Register("SendMail", jobs.HandlerFunc(func(context.Context, jobs.Invocation) error { return nil })); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := r.Run(context.Background(), jobs.Invocation{JobID: 7, Command: "SendMail"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !called {
		t.Fatal("handler was not invoked with the job")
	}
	if got := r.Commands(); len(got) != 1 || got[0] != "SendMail" {
		t.Fatalf("unexpected commands: %v", got)
	}
}

func TestUnknownCommandIsPermanent(t *testing.T) {
	r := jobs.NewRegistry()
	err := r.Run(context.Background(), jobs.Invocation{Command: "Missing"})
	if !errors.Is(err, jobs.ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
	if !queue.IsPermanent(err) {
		t.Fatal("unknown command must be permanent")
	}
}

func TestPanicBecomesTransientFailure(t *testing.T) {
	r := jobs.NewRegistry()
	_ = r.Register("Explode", jobs.HandlerFunc(func(context.Context, jobs.Invocation) error {
		panic("kaboom")
	}))
	err := r.Run(context.Background(), jobs.Invocation{Command: "Explode"})
	if !errors.Is(err, jobs.ErrTransient) {
		t.Fatalf("expected transient failure, got %v", err)
	}
	if queue.IsPermanent(err) {
		t.Fatal("panics should be retried")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("smtp down")
	err := jobs.Wrap(nil, "SendMail", "deliver", "", cause)
	if !errors.Is(err, cause) || !errors.Is(err, jobs.ErrTransient) {
		t.Fatalf("expected both marker and cause in chain: %v", err)
	}
	if got, want := err.Error(), "transient failure: SendMail: deliver: smtp down"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestBuiltinHandlers(t *testing.T) {
	r, err := jobs.NewDefaultRegistry(&config.Config{})
	if err != nil {
		t.Fatalf("NewDefaultRegistry failed: %v", err)
	}
	ctx := context.Background()

	if err := r.Run(ctx, jobs.Invocation{Command: jobs.CommandNoop}); err != nil {
		t.Fatalf("noop failed: %v", err)
	}
	if err := r.Run(ctx, jobs.Invocation{Command: jobs.CommandSleep, Parameters: params(t, 0.01)}); err != nil {
		t.Fatalf("sleep failed: %v", err)
	}
	err = r.Run(ctx, jobs.Invocation{Command: jobs.CommandSleep, Parameters: params(t, "soon")})
	if !errors.Is(err, jobs.ErrInvalidParameters) || !queue.IsPermanent(err) {
		t.Fatalf("expected permanent invalid parameters, got %v", err)
	}
	err = r.Run(ctx, jobs.Invocation{Command: jobs.CommandExec, Parameters: params(t, "true")})
	if !errors.Is(err, jobs.ErrNotPermitted) {
		t.Fatalf("expected exec to be refused by default, got %v", err)
	}
}

func TestSleepStopsOnCancel(t *testing.T) {
	r, _ := jobs.NewDefaultRegistry(nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Run(ctx, jobs.Invocation{Command: jobs.CommandSleep, Parameters: params(t, 60)})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context error, got %v", err)
	}
}

func TestExecHandlerWhenAllowed(t *testing.T) {
	r, err := jobs.NewDefaultRegistry(&config.Config{Handlers: config.Handlers{AllowExec: true}})
	if err != nil {
		t.Fatalf("NewDefaultRegistry failed: %v", err)
	}
	ctx := context.Background()
	if err := r.Run(ctx, jobs.Invocation{Command: jobs.CommandExec, Parameters: params(t, "sh", "-c", "exit 0")}); err != nil {
		t.Fatalf("exec success failed: %v", err)
	}
	err = r.Run(ctx, jobs.Invocation{Command: jobs.CommandExec, Parameters: params(t, "sh", "-c", "echo broken >&2; exit 3")})
	if !errors.Is(err, jobs.ErrTransient) {
		t.Fatalf("expected transient failure, got %v", err)
	}
	err = r.Run(ctx, jobs.Invocation{Command: jobs.CommandExec, Parameters: params(t, "drover-definitely-missing-binary")})
	if !queue.IsPermanent(err) {
		t.Fatalf("expected missing program to be permanent, got %v", err)
	}
}
