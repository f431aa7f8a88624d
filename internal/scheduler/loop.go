package scheduler

import (
	"context"
	"log/slog"
	"math"
	"time"

	"drover/internal/dispatch"
	"drover/internal/logging"
	"drover/internal/wake"
)

// maxSleep caps a single sleep step.
const maxSleep = time.Second

// Dispatcher is the work the loop triggers on every pass.
type Dispatcher interface {
	SpawnWorker(ctx context.Context, runCron bool) (dispatch.SpawnResult, error)
}

// Reconnector refreshes long-lived store connections before a cron sweep.
type Reconnector interface {
	Reconnect() error
}

// State is the loop's persistent bookkeeping between passes.
type State struct {
	DoCron       bool
	LastCronRun  time.Time
	WaitInterval time.Duration
}

// Loop is the supervisor's scheduling loop.
type Loop struct {
	dispatcher Dispatcher
	store      Reconnector
	wake       wake.Signal
	notify     <-chan struct{}
	clock      Clock
	logger     *slog.Logger
	state      State
	onPass     func(State)
}

// Options configures a Loop.
type Options struct {
	Store Reconnector
	Wake  wake.Signal
	// Clock defaults to SystemClock.
	Clock  Clock
	Logger *slog.Logger
	// OnPass observes the state after each pass.
	OnPass func(State)
}

// New returns a loop dispatching through d every pass, with a full sweep at
// least every waitInterval.
func New(d Dispatcher, waitInterval time.Duration, opts Options) *Loop {
	l := &Loop{
		dispatcher: d,
		store:      opts.Store,
		wake:       opts.Wake,
		clock:      opts.Clock,
		logger:     logging.NewComponentLogger(opts.Logger, "scheduler"),
		state:      State{DoCron: true, WaitInterval: waitInterval},
		onPass:     opts.OnPass,
	}
	if l.clock == nil {
		l.clock = SystemClock{}
	}
	if n, ok := opts.Wake.(wake.Notifier); ok {
		l.notify = n.Notify()
	}
	return l
}

// State returns a copy of the current loop state.
func (l *Loop) State() State {
	return l.state
}

// SleepDuration returns the pause after elapsed time in a sleep phase of
// length wait: round(log10((elapsed_s+1)/(wait_s/9) + 1) * 1e6) µs, at most
// one second.
func SleepDuration(elapsed, wait time.Duration) time.Duration {
	if wait <= 0 {
		return maxSleep
	}
	ratio := (elapsed.Seconds() + 1) / (wait.Seconds() / 9)
	d := time.Duration(math.Round(math.Log10(ratio+1)*1e6)) * time.Microsecond
	if d > maxSleep {
		return maxSleep
	}
	return d
}

// Run loops until ctx is cancelled. Dispatch passes run on a context that is
// not cancelled, so a pass in flight at shutdown completes.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("scheduler loop started",
		logging.Duration("wait_interval", l.state.WaitInterval),
		logging.String(logging.FieldEventType, "scheduler_start"),
	)
	for ctx.Err() == nil {
		l.Pass(ctx)
	}
	l.logger.Info("scheduler loop stopped", logging.String(logging.FieldEventType, "scheduler_stop"))
	return nil
}

// Pass runs one dispatch followed by one sleep phase.
func (l *Loop) Pass(ctx context.Context) {
	now := l.clock.Now()
	if !l.state.DoCron && !l.state.LastCronRun.IsZero() && !now.Before(l.state.LastCronRun.Add(l.state.WaitInterval)) {
		l.state.DoCron = true
	}

	result, err := l.dispatcher.SpawnWorker(context.WithoutCancel(ctx), l.state.DoCron)
	if err != nil {
		logging.ErrorWithContext(l.logger, "dispatch pass failed", "dispatch_failed",
			logging.Error(err),
			logging.Bool("cron", l.state.DoCron),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
	} else if len(result.Spawned) > 0 {
		l.logger.Debug("dispatch pass",
			logging.Int("spawned", len(result.Spawned)),
			logging.Int("released", result.Sweep.Released),
			logging.Bool("cron", l.state.DoCron),
		)
	}

	if l.state.DoCron {
		if l.store != nil {
			if err := l.store.Reconnect(); err != nil {
				logging.WarnWithContext(l.logger, "store reconnect failed", "store_reconnect_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "next pass reuses the existing connection"),
				)
			}
		}
		l.state.LastCronRun = l.clock.Now()
	}

	woke := l.sleepPhase(ctx)
	l.state.DoCron = !woke && ctx.Err() == nil
	if l.onPass != nil {
		l.onPass(l.state)
	}
}

// sleepPhase waits until the wake signal is pending or WaitInterval elapses.
// It reports whether it was woken early.
func (l *Loop) sleepPhase(ctx context.Context) bool {
	start := l.clock.Now()
	for {
		if ctx.Err() != nil {
			return false
		}
		elapsed := l.clock.Now().Sub(start)
		if elapsed >= l.state.WaitInterval {
			return false
		}
		if l.pending(ctx) {
			return true
		}
		l.clock.Sleep(ctx, SleepDuration(elapsed, l.state.WaitInterval), l.notify)
	}
}

func (l *Loop) pending(ctx context.Context) bool {
	if l.wake == nil {
		return false
	}
	pending, err := l.wake.Pending(ctx)
	if err != nil {
		l.logger.Debug("wake signal unreadable", logging.Error(err))
		return false
	}
	return pending
}
