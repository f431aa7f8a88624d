package procutil

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Prober checks and ends processes by pid.
type Prober interface {
	Alive(pid int) bool
	Terminate(pid int) error
}

// OS probes real processes with kill(2).
type OS struct{}

// Alive sends signal 0. A permission error still proves the pid exists.
func (OS) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Terminate sends SIGTERM.
func (OS) Terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("terminate: invalid pid %d", pid)
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}
	return nil
}
