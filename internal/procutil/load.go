package procutil

import "errors"

// ErrLoadUnavailable is returned where the platform exposes no load average.
var ErrLoadUnavailable = errors.New("load average unavailable on this platform")
