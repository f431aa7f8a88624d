package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"drover/internal/logging"
)

// Invocation is one execution of a queued job.
type Invocation struct {
	JobID      int64
	Command    string
	Parameters []json.RawMessage
	// Attempt is 1 for the first run and grows with each retry.
	Attempt int
	Logger  *slog.Logger
}

// Handler executes jobs for one command. Returning ctx.Err() after the
// context is cancelled means the job was interrupted, not that it failed.
type Handler interface {
	Run(ctx context.Context, inv Invocation) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inv Invocation) error

func (f HandlerFunc) Run(ctx context.Context, inv Invocation) error { return f(ctx, inv) }

// Registry resolves command names to handlers. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds command to h. Registering a command twice is an error.
func (r *Registry) Register(command string, h Handler) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return fmt.Errorf("register handler: command is required")
	}
	if h == nil {
		return fmt.Errorf("register handler %s: handler is nil", command)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[command]; exists {
		return fmt.Errorf("register handler %s: already registered", command)
	}
	r.handlers[command] = h
	return nil
}

// Resolve returns the handler for command or an ErrUnknownCommand failure.
func (r *Registry) Resolve(command string) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[command]
	r.mu.RUnlock()
	if !ok {
		return nil, Wrap(ErrUnknownCommand, command, "resolve", "no handler registered", nil)
	}
	return h, nil
}

// Commands lists registered command names in order.
func (r *Registry) Commands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Run resolves and executes inv. A panicking handler is reported as a
// transient failure carrying the panic value.
func (r *Registry) Run(ctx context.Context, inv Invocation) (err error) {
	h, err := r.Resolve(inv.Command)
	if err != nil {
		return err
	}
	if inv.Logger == nil {
		inv.Logger = logging.NewNop()
	}
	defer func() {
		if rec := recover(); rec != nil {
			inv.Logger.Error("job handler panicked",
				logging.Any("panic", rec),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldEventType, "handler_panic"),
			)
			err = Wrap(ErrTransient, inv.Command, "run", fmt.Sprintf("panic: %v", rec), nil)
		}
	}()
	return h.Run(ctx, inv)
}
