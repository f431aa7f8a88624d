package daemon

import "errors"

// ErrAlreadyRunning is returned when a live supervisor already owns the
// pidfile or the instance lock. Nothing was changed.
var ErrAlreadyRunning = errors.New("already running")

// StartupConfigError reports configuration that makes starting impossible.
type StartupConfigError struct {
	Err error
}

func (e *StartupConfigError) Error() string {
	return "startup configuration: " + e.Err.Error()
}

func (e *StartupConfigError) Unwrap() error { return e.Err }
