package jobs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownCommand    = errors.New("unknown command")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrNotPermitted      = errors.New("handler not permitted")
	ErrTransient         = errors.New("transient failure")
)

// Failure tags a handler error with one of the sentinel markers above so the
// dispatcher can decide whether retrying makes sense.
type Failure struct {
	marker error
	detail string
	err    error
}

// Wrap builds a Failure whose message carries the command and operation.
// A nil marker defaults to ErrTransient.
func Wrap(marker error, command, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &Failure{marker: marker, detail: buildDetail(command, operation, message), err: err}
}

func (f *Failure) Error() string {
	if f.err != nil {
		return fmt.Sprintf("%v: %s: %v", f.marker, f.detail, f.err)
	}
	return fmt.Sprintf("%v: %s", f.marker, f.detail)
}

func (f *Failure) Unwrap() []error {
	if f.err == nil {
		return []error{f.marker}
	}
	return []error{f.marker, f.err}
}

// Permanent reports whether retrying the job cannot succeed.
func (f *Failure) Permanent() bool {
	switch f.marker {
	case ErrUnknownCommand, ErrInvalidParameters, ErrNotPermitted:
		return true
	default:
		return false
	}
}

func buildDetail(command, operation, message string) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{command, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return "job failure"
	}
	return strings.Join(parts, ": ")
}
