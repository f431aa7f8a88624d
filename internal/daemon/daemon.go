package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	sdaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"drover/internal/config"
	"drover/internal/logging"
	"drover/internal/procutil"
	"drover/internal/registry"
	"drover/internal/storage"
	"drover/internal/wake"
)

// SettingDaemonMode is set while a supervisor is running.
const SettingDaemonMode = "daemon_mode"

// ForegroundArgs is the command a detached supervisor runs.
var ForegroundArgs = []string{"start", "--foreground"}

// Runner is the supervisor's main loop.
type Runner interface {
	Run(ctx context.Context) error
}

// Mode is the supervisor lifecycle phase.
type Mode string

const (
	ModeStopped  Mode = "stopped"
	ModeStarting Mode = "starting"
	ModeRunning  Mode = "running"
	ModeStopping Mode = "stopping"
)

// State is the supervisor's view of itself, threaded through its methods
// instead of living in globals.
type State struct {
	Mode      Mode
	PIDFile   string
	LockFile  string
	PID       int
	SessionID string
	StartedAt time.Time
}

// Outcome names the result of a lifecycle command as shown to operators.
type Outcome string

const (
	OutcomeStarted        Outcome = "started"
	OutcomeAlreadyRunning Outcome = "already running"
	OutcomeNotRunning     Outcome = "not running"
	OutcomeKilled         Outcome = "killed"
	OutcomeRunning        Outcome = "running"
)

// Result reports a lifecycle command.
type Result struct {
	Outcome Outcome
	PID     int
	// Detached is set when Start launched a background supervisor.
	Detached bool
	// Stale is set when a pidfile naming a dead process was cleaned up.
	Stale bool
	// Workers counts registered worker processes, for Status.
	Workers int
}

// Supervisor manages the daemon process.
type Supervisor struct {
	cfg      *config.Config
	spawner  procutil.Spawner
	prober   procutil.Prober
	store    *storage.DB
	registry *registry.Registry
	loop     Runner
	wake     wake.Signal
	notify   func(state string) (bool, error)
	logger   *slog.Logger

	mu    sync.Mutex
	state State
}

// Options wires the supervisor's collaborators. Store and Loop are only
// needed to run in the foreground.
type Options struct {
	Spawner procutil.Spawner
	Prober  procutil.Prober
	Store   *storage.DB
	Loop    Runner
	Wake    wake.Signal
	// Notify reports state to the service manager; defaults to sd_notify.
	Notify    func(state string) (bool, error)
	PID       int
	SessionID string
	Logger    *slog.Logger
}

// New returns a supervisor for cfg.
func New(cfg *config.Config, opts Options) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		spawner: opts.Spawner,
		prober:  opts.Prober,
		store:   opts.Store,
		loop:    opts.Loop,
		wake:    opts.Wake,
		notify:  opts.Notify,
		logger:  logging.NewComponentLogger(opts.Logger, "daemon"),
		state: State{
			Mode:      ModeStopped,
			PIDFile:   cfg.Paths.PIDFile,
			LockFile:  cfg.LockPath(),
			PID:       opts.PID,
			SessionID: opts.SessionID,
		},
	}
	if s.state.PID == 0 {
		s.state.PID = os.Getpid()
	}
	if s.spawner == nil {
		s.spawner = procutil.ExecSpawner{}
	}
	if s.prober == nil {
		s.prober = procutil.OS{}
	}
	if s.notify == nil {
		s.notify = func(state string) (bool, error) { return sdaemon.SdNotify(false, state) }
	}
	if s.store != nil {
		s.registry = registry.New(s.store)
	}
	return s
}

// State returns a copy of the supervisor state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Mode = mode
	if mode == ModeRunning {
		s.state.StartedAt = time.Now()
	}
}

// Start launches the supervisor. With foreground set it runs in this
// process until ctx ends; otherwise it detaches a background supervisor and
// returns its pid.
func (s *Supervisor) Start(ctx context.Context, foreground bool) (Result, error) {
	if err := s.cfg.ValidateStartup(); err != nil {
		return Result{}, &StartupConfigError{Err: err}
	}
	if pid, alive := s.recordedPID(); alive {
		return Result{Outcome: OutcomeAlreadyRunning, PID: pid}, ErrAlreadyRunning
	}
	if foreground {
		if err := s.Run(ctx); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeStarted, PID: s.state.PID}, nil
	}

	pid, err := s.spawner.SpawnDetached(ctx, ForegroundArgs)
	if err != nil {
		return Result{}, fmt.Errorf("detach supervisor: %w", err)
	}
	s.logger.Info("supervisor detached",
		logging.Int(logging.FieldPID, pid),
		logging.String(logging.FieldEventType, "daemon_detached"),
	)
	return Result{Outcome: OutcomeStarted, PID: pid, Detached: true}, nil
}

// Run is the foreground supervisor: take the instance lock, publish the
// pidfile, register, then run the loop until SIGINT, SIGTERM or ctx ends.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.cfg.ValidateStartup(); err != nil {
		return &StartupConfigError{Err: err}
	}
	if s.loop == nil || s.store == nil {
		return errors.New("daemon run requires a store and a loop")
	}
	s.setMode(ModeStarting)
	defer s.setMode(ModeStopped)
	if err := os.MkdirAll(filepath.Dir(s.state.PIDFile), 0o755); err != nil {
		return fmt.Errorf("ensure pidfile directory: %w", err)
	}

	lock := flock.New(s.state.LockFile)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	if err := procutil.WritePIDFile(s.state.PIDFile, s.state.PID); err != nil {
		return err
	}
	defer s.removeOwnPIDFile()

	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	// Shutdown bookkeeping runs after the signal context is gone.
	cleanupCtx := context.WithoutCancel(ctx)

	if err := s.store.Reconnect(); err != nil {
		return fmt.Errorf("reconnect store: %w", err)
	}
	if _, err := s.registry.Insert(signalCtx, s.state.PID, registry.CommandDaemon, s.state.SessionID); err != nil {
		return err
	}
	defer func() {
		if err := s.registry.DeleteByPID(cleanupCtx, s.state.PID); err != nil {
			s.logger.Warn("supervisor row not removed", logging.Error(err))
		}
	}()
	if err := s.store.SetSetting(signalCtx, SettingDaemonMode, "1"); err != nil {
		return err
	}
	defer s.clearDaemonMode(cleanupCtx)

	logging.PruneLogs(s.logger, s.cfg.Paths.LogDir, "drover-*.log", logging.LogFileName, s.cfg.Logging.RetentionDays, time.Now())

	if _, err := s.notify(sdaemon.SdNotifyReady); err != nil {
		s.logger.Debug("service manager notify failed", logging.Error(err))
	}
	defer func() {
		if _, err := s.notify(sdaemon.SdNotifyStopping); err != nil {
			s.logger.Debug("service manager notify failed", logging.Error(err))
		}
	}()

	s.logger.Info("drover supervisor started",
		logging.Int(logging.FieldPID, s.state.PID),
		logging.String("pidfile", s.state.PIDFile),
		logging.String("lock", s.state.LockFile),
		logging.String("database", s.store.Path()),
		logging.String(logging.FieldEventType, "daemon_start"),
	)

	s.setMode(ModeRunning)
	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error { return s.loop.Run(gctx) })
	if n, ok := s.wake.(wake.Notifier); ok {
		g.Go(func() error { return n.Watch(gctx) })
	}
	err = g.Wait()
	s.setMode(ModeStopping)

	s.logger.Info("drover supervisor shutting down", logging.String(logging.FieldEventType, "daemon_stop"))
	return err
}

// Stop sends SIGTERM to the supervisor named in the pidfile and removes the
// pidfile. A missing pidfile is reported as not running.
func (s *Supervisor) Stop(ctx context.Context) (Result, error) {
	pid, err := procutil.ReadPIDFile(s.state.PIDFile)
	if err != nil {
		if !errors.Is(err, procutil.ErrNoPIDFile) {
			logging.WarnWithContext(s.logger, "pidfile unreadable", "pidfile_invalid",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remove the pidfile if no supervisor is running"),
			)
		}
		s.clearDaemonMode(ctx)
		return Result{Outcome: OutcomeNotRunning}, nil
	}

	stale := false
	if err := s.prober.Terminate(pid); err != nil {
		if !errors.Is(err, syscall.ESRCH) {
			return Result{}, err
		}
		stale = true
	}
	if err := procutil.RemovePIDFile(s.state.PIDFile); err != nil {
		return Result{}, err
	}
	if stale {
		s.clearDaemonMode(ctx)
		return Result{Outcome: OutcomeNotRunning, PID: pid, Stale: true}, nil
	}
	s.logger.Info("supervisor signalled",
		logging.Int(logging.FieldPID, pid),
		logging.String(logging.FieldEventType, "daemon_killed"),
	)
	return Result{Outcome: OutcomeKilled, PID: pid}, nil
}

// Status probes the supervisor named in the pidfile. A pidfile naming a
// dead process is removed.
func (s *Supervisor) Status(ctx context.Context) (Result, error) {
	pid, err := procutil.ReadPIDFile(s.state.PIDFile)
	if err != nil {
		return Result{Outcome: OutcomeNotRunning}, nil
	}
	if !s.prober.Alive(pid) {
		if err := procutil.RemovePIDFile(s.state.PIDFile); err != nil {
			return Result{}, err
		}
		s.clearDaemonMode(ctx)
		return Result{Outcome: OutcomeNotRunning, PID: pid, Stale: true}, nil
	}
	result := Result{Outcome: OutcomeRunning, PID: pid}
	if s.registry != nil {
		workers, err := s.registry.Count(ctx, registry.CommandWorker)
		if err != nil {
			return result, err
		}
		result.Workers = workers
	}
	return result, nil
}

func (s *Supervisor) recordedPID() (int, bool) {
	pid, err := procutil.ReadPIDFile(s.state.PIDFile)
	if err != nil {
		return 0, false
	}
	return pid, s.prober.Alive(pid)
}

// removeOwnPIDFile leaves a pidfile alone once a newer supervisor has
// replaced it.
func (s *Supervisor) removeOwnPIDFile() {
	pid, err := procutil.ReadPIDFile(s.state.PIDFile)
	if err != nil || pid != s.state.PID {
		return
	}
	if err := procutil.RemovePIDFile(s.state.PIDFile); err != nil {
		s.logger.Warn("pidfile not removed", logging.Error(err))
	}
}

func (s *Supervisor) clearDaemonMode(ctx context.Context) {
	if s.store == nil {
		return
	}
	if err := s.store.DeleteSetting(ctx, SettingDaemonMode); err != nil {
		s.logger.Debug("daemon_mode not cleared", logging.Error(err))
	}
}
