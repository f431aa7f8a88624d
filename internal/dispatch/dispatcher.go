package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"drover/internal/config"
	"drover/internal/jobs"
	"drover/internal/logging"
	"drover/internal/procutil"
	"drover/internal/queue"
	"drover/internal/registry"
	"drover/internal/schedule"
	"drover/internal/wake"
)

// Dispatcher claims jobs and runs them in worker processes or in-process.
type Dispatcher struct {
	cfg       *config.Config
	queue     *queue.Queue
	registry  *registry.Registry
	handlers  *jobs.Registry
	schedules *schedule.Scheduler
	wake      wake.Signal
	spawner   procutil.Spawner
	prober    procutil.Prober
	limiter   *rate.Limiter
	load      func() (float64, error)
	pid       int
	session   string
	now       func() time.Time
	logger    *slog.Logger

	reapers sync.WaitGroup
}

// Options carries the dispatcher's collaborators. Zero values select the
// production implementations.
type Options struct {
	// PID identifies this process as claimant; defaults to os.Getpid.
	PID       int
	SessionID string
	Clock     func() time.Time
	// LoadFunc reports the 1-minute load average.
	LoadFunc  func() (float64, error)
	Spawner   procutil.Spawner
	Prober    procutil.Prober
	Schedules *schedule.Scheduler
	Wake      wake.Signal
	Logger    *slog.Logger
}

// New returns a dispatcher for q, tracking processes in reg and running
// handlers from handlers.
func New(cfg *config.Config, q *queue.Queue, reg *registry.Registry, handlers *jobs.Registry, opts Options) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		queue:     q,
		registry:  reg,
		handlers:  handlers,
		schedules: opts.Schedules,
		wake:      opts.Wake,
		spawner:   opts.Spawner,
		prober:    opts.Prober,
		load:      opts.LoadFunc,
		pid:       opts.PID,
		session:   opts.SessionID,
		now:       opts.Clock,
		logger:    logging.NewComponentLogger(opts.Logger, "dispatch"),
	}
	if d.pid == 0 {
		d.pid = os.Getpid()
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.load == nil {
		d.load = procutil.LoadAverage
	}
	if d.prober == nil {
		d.prober = procutil.OS{}
	}
	if d.spawner == nil {
		d.spawner = procutil.ExecSpawner{}
	}
	if cfg.Worker.SpawnRate > 0 {
		burst := cfg.Worker.SpawnBurst
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.Worker.SpawnRate), burst)
	}
	return d
}

// PID returns the claimant pid this dispatcher uses.
func (d *Dispatcher) PID() int {
	return d.pid
}

// AllowedWorkers returns how many workers may run at the given load:
// ceil(((max_load - load) / max_load)^load_exponent * max_workers). It is 0
// above max_load and max_workers when load probing is disabled.
func AllowedWorkers(w config.Worker, load float64) int {
	if w.MaxLoad <= 0 {
		return w.MaxWorkers
	}
	if load > w.MaxLoad {
		return 0
	}
	ratio := (w.MaxLoad - load) / w.MaxLoad
	return int(math.Ceil(math.Pow(ratio, float64(w.LoadExponent)) * float64(w.MaxWorkers)))
}

// allowed samples the load average and applies AllowedWorkers. An
// unavailable load average disables backpressure.
func (d *Dispatcher) allowed() (int, float64) {
	if d.cfg.Worker.MaxLoad <= 0 {
		return d.cfg.Worker.MaxWorkers, 0
	}
	load, err := d.load()
	if err != nil {
		if !errors.Is(err, procutil.ErrLoadUnavailable) {
			logging.WarnWithContext(d.logger, "load average unavailable", "load_probe_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "worker limit ignores system load"),
			)
		}
		return d.cfg.Worker.MaxWorkers, 0
	}
	allowed := AllowedWorkers(d.cfg.Worker, load)
	if allowed == 0 {
		d.logger.Info("system overloaded, not dispatching",
			logging.Float64("load", load),
			logging.Float64("max_load", d.cfg.Worker.MaxLoad),
			logging.String(logging.FieldEventType, "dispatch_backpressure"),
		)
	}
	return allowed, load
}

// Sweep heals orphaned claims and, when runCron is set, enqueues due
// scheduled jobs.
func (d *Dispatcher) Sweep(ctx context.Context, runCron bool) (queue.SweepResult, error) {
	timeout := time.Duration(d.cfg.Worker.HeartbeatTimeout) * time.Second
	result, err := d.queue.RecoverOrphans(ctx, d.registry, d.prober, timeout)
	if err != nil {
		return result, err
	}
	if runCron && d.schedules != nil {
		if _, err := d.schedules.EnqueueDue(ctx); err != nil {
			logging.WarnWithContext(d.logger, "scheduled jobs not enqueued", "schedule_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the [[schedules]] section"),
				logging.String(logging.FieldImpact, "time-based jobs wait for the next cron sweep"),
			)
		}
	}
	return result, nil
}

// UnclaimProcess releases every claim this process holds, leaving
// scheduled_at untouched.
func (d *Dispatcher) UnclaimProcess(ctx context.Context) (int, error) {
	return d.queue.UnclaimPID(ctx, d.pid)
}

// EndProcess removes this process from the registry.
func (d *Dispatcher) EndProcess(ctx context.Context) error {
	return d.registry.DeleteByPID(ctx, d.pid)
}

// Wait blocks until every spawned worker has been reaped.
func (d *Dispatcher) Wait() {
	d.reapers.Wait()
}
