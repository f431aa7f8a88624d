package procutil

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrNoPIDFile reports a missing or unreadable pidfile.
var ErrNoPIDFile = errors.New("pidfile missing")

// ReadPIDFile returns the pid recorded at path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNoPIDFile
		}
		return 0, fmt.Errorf("read pidfile %q: %w", path, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: %q holds no pid", ErrNoPIDFile, path)
	}
	return pid, nil
}

// WritePIDFile records pid at path followed by a newline.
func WritePIDFile(path string, pid int) error {
	if path == "" {
		return errors.New("pidfile path is empty")
	}
	value := strconv.Itoa(pid) + "\n"
	if err := os.WriteFile(path, []byte(value), 0o644); err != nil {
		return fmt.Errorf("write pidfile: %w", err)
	}
	return nil
}

// RemovePIDFile deletes path, ignoring a missing file.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pidfile %q: %w", path, err)
	}
	return nil
}
