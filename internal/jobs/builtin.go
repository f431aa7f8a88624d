package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"drover/internal/config"
	"drover/internal/logging"
)

// Built-in command names.
const (
	CommandNoop  = "noop"
	CommandSleep = "sleep"
	CommandExec  = "exec"
)

const maxCapturedOutput = 4096

// RegisterBuiltins installs noop, sleep and, when cfg allows it, exec.
func RegisterBuiltins(r *Registry, cfg config.Handlers) error {
	if err := r.Register(CommandNoop, HandlerFunc(runNoop)); err != nil {
		return err
	}
	if err := r.Register(CommandSleep, HandlerFunc(runSleep)); err != nil {
		return err
	}
	execHandler := HandlerFunc(runExec)
	if !cfg.AllowExec {
		execHandler = func(_ context.Context, inv Invocation) error {
			return Wrap(ErrNotPermitted, inv.Command, "run", "enable handlers.allow_exec to run external programs", nil)
		}
	}
	return r.Register(CommandExec, execHandler)
}

// NewDefaultRegistry returns a registry holding the built-in handlers.
func NewDefaultRegistry(cfg *config.Config) (*Registry, error) {
	r := NewRegistry()
	var handlers config.Handlers
	if cfg != nil {
		handlers = cfg.Handlers
	}
	if err := RegisterBuiltins(r, handlers); err != nil {
		return nil, err
	}
	return r, nil
}

func runNoop(context.Context, Invocation) error { return nil }

func runSleep(ctx context.Context, inv Invocation) error {
	seconds, err := inv.Float(0)
	if err != nil {
		return err
	}
	if seconds < 0 {
		return Wrap(ErrInvalidParameters, inv.Command, "run", "duration must not be negative", nil)
	}
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func runExec(ctx context.Context, inv Invocation) error {
	argv, err := inv.Strings(0)
	if err != nil {
		return err
	}
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return Wrap(ErrInvalidParameters, inv.Command, "run", "program is required", nil)
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...) //nolint:gosec // operator opted in via handlers.allow_exec
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err = cmd.Run()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		if inv.Logger != nil {
			inv.Logger.Debug("program finished",
				logging.String("program", argv[0]),
				logging.Int("output_bytes", output.Len()),
			)
		}
		return nil
	}
	detail := strings.TrimSpace(tail(output.String(), maxCapturedOutput))
	if errors.Is(err, exec.ErrNotFound) {
		return Wrap(ErrInvalidParameters, inv.Command, "run", argv[0], err)
	}
	return Wrap(ErrTransient, inv.Command, "run", fmt.Sprintf("%s: %s", argv[0], detail), err)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
