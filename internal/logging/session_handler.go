package logging

import (
	"context"
	"log/slog"
)

// tagHandler stamps records with the process session id and, when the record
// does not name a job itself, the job carried by the logging context.
type tagHandler struct {
	base      slog.Handler
	sessionID string
	// hasJob is set once WithAttrs bound a job id to the logger.
	hasJob bool
}

func newTagHandler(base slog.Handler, sessionID string) slog.Handler {
	if base == nil {
		return noopHandler{}
	}
	return &tagHandler{base: base, sessionID: sessionID}
}

func (h *tagHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *tagHandler) Handle(ctx context.Context, record slog.Record) error {
	if !h.hasJob && !recordHasKey(record, FieldJobID) {
		if fields := ContextFields(ctx); len(fields) > 0 {
			record.AddAttrs(fields...)
		}
	}
	if h.sessionID != "" {
		record.AddAttrs(slog.String(FieldSessionID, h.sessionID))
	}
	return h.base.Handle(ctx, record)
}

func (h *tagHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &tagHandler{
		base:      h.base.WithAttrs(attrs),
		sessionID: h.sessionID,
		hasJob:    h.hasJob || hasAttrKey(attrs, FieldJobID),
	}
}

func (h *tagHandler) WithGroup(name string) slog.Handler {
	return &tagHandler{
		base:      h.base.WithGroup(name),
		sessionID: h.sessionID,
		hasJob:    h.hasJob,
	}
}

func recordHasKey(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		found = attr.Key == key
		return !found
	})
	return found
}
