package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the standardized structured logging key for queue job identifiers.
	FieldJobID = "job_id"
	// FieldCommand is the standardized structured logging key for job command names.
	FieldCommand = "command"
	// FieldPID is the standardized structured logging key for operating system process ids.
	FieldPID = "pid"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step after a failure.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for the consequence of a warning.
	FieldImpact = "impact"
	// FieldSessionID identifies one process lifetime across every log line it writes.
	FieldSessionID = "session_id"
)

type jobContextKey struct{}

type jobContext struct {
	id      int64
	command string
}

// WithJob returns a context tagged with the job currently being executed.
func WithJob(ctx context.Context, id int64, command string) context.Context {
	return context.WithValue(ctx, jobContextKey{}, jobContext{id: id, command: command})
}

// JobFromContext returns the job recorded by WithJob.
func JobFromContext(ctx context.Context) (int64, string, bool) {
	if ctx == nil {
		return 0, "", false
	}
	job, ok := ctx.Value(jobContextKey{}).(jobContext)
	if !ok {
		return 0, "", false
	}
	return job.id, job.command, true
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	id, command, ok := JobFromContext(ctx)
	if !ok {
		return nil
	}
	return []slog.Attr{slog.Int64(FieldJobID, id), slog.String(FieldCommand, command)}
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(toArgs(fields...)...)
}
