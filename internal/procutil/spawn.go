package procutil

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
)

// DetachCommand is the hidden subcommand the intermediate process runs.
const DetachCommand = "detach"

// Spawner launches drover child processes.
type Spawner interface {
	// SpawnDetached starts args as a daemon with no controlling terminal that
	// is not a session leader, returning its pid.
	SpawnDetached(ctx context.Context, args []string) (int, error)
	// SpawnWorker starts args as a worker child of the caller.
	SpawnWorker(ctx context.Context, args []string) (Handle, error)
}

// Handle tracks a spawned worker.
type Handle interface {
	PID() int
	// Done closes after the child has been reaped.
	Done() <-chan struct{}
	// Err reports the exit error once Done is closed.
	Err() error
}

// ExecSpawner re-executes the current binary.
type ExecSpawner struct {
	// Executable defaults to os.Executable.
	Executable string
	// BaseArgs are prepended to every invocation, e.g. --config.
	BaseArgs []string
}

func (s ExecSpawner) executable() (string, error) {
	if strings.TrimSpace(s.Executable) != "" {
		return s.Executable, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func (s ExecSpawner) argv(args []string) []string {
	out := make([]string, 0, len(s.BaseArgs)+len(args))
	out = append(out, s.BaseArgs...)
	return append(out, args...)
}

// SpawnDetached runs `<exe> detach -- <args>` in a new session. That
// intermediate starts the real daemon, reports its pid on stdout and exits,
// so the daemon is reparented to init.
func (s ExecSpawner) SpawnDetached(ctx context.Context, args []string) (int, error) {
	exe, err := s.executable()
	if err != nil {
		return 0, err
	}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	argv := append([]string{DetachCommand, "--"}, s.argv(args)...)
	cmd := exec.CommandContext(ctx, exe, argv...)
	cmd.Stdin = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("detach pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start intermediate: %w", err)
	}

	line, readErr := bufio.NewReader(stdout).ReadString('\n')
	waitErr := cmd.Wait()
	if readErr != nil && !errors.Is(readErr, io.EOF) {
		return 0, fmt.Errorf("read daemon pid: %w", readErr)
	}
	if waitErr != nil {
		return 0, fmt.Errorf("intermediate exited: %w", waitErr)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("intermediate reported no pid (%q)", strings.TrimSpace(line))
	}
	return pid, nil
}

// RunIntermediate is the body of the detach subcommand: start argv with
// standard streams on /dev/null, print its pid to out and return without
// waiting.
func RunIntermediate(argv []string, out io.Writer) error {
	if len(argv) == 0 {
		return errors.New("detach: no command given")
	}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}
	cmd := exec.Command(exe, argv...)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.Dir = "/"
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("release daemon: %w", err)
	}
	_, err = fmt.Fprintln(out, pid)
	return err
}

// SpawnWorker starts a worker in its own process group so terminal signals
// aimed at the supervisor do not interrupt running jobs.
func (s ExecSpawner) SpawnWorker(ctx context.Context, args []string) (Handle, error) {
	exe, err := s.executable()
	if err != nil {
		return nil, err
	}
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()

	cmd := exec.Command(exe, s.argv(args)...)
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker: %w", err)
	}

	h := &execHandle{pid: cmd.Process.Pid, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
	}()
	return h, nil
}

type execHandle struct {
	pid  int
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func (h *execHandle) PID() int { return h.pid }

func (h *execHandle) Done() <-chan struct{} { return h.done }

func (h *execHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}
