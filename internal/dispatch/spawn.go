package dispatch

import (
	"context"
	"errors"
	"strconv"
	"time"

	"drover/internal/logging"
	"drover/internal/procutil"
	"drover/internal/queue"
	"drover/internal/registry"
)

// Worker subcommand flags understood by the CLI.
const (
	WorkerCommand   = "worker"
	FlagJob         = "--job"
	FlagClaimant    = "--claimant"
	FlagContinuous  = "--continuous"
	handoffInterval = 50 * time.Millisecond
)

// Spawned describes one worker launched for a job.
type Spawned struct {
	JobID int64
	PID   int
}

// SpawnResult summarizes one dispatch pass.
type SpawnResult struct {
	Sweep   queue.SweepResult
	Load    float64
	Allowed int
	Active  int
	Spawned []Spawned
	// InProcess is set when worker.fork is off and jobs ran here.
	InProcess *ProcessResult
}

// WorkerArgs returns the argument list a spawned worker runs with.
func WorkerArgs(jobID int64, claimant int, continuous bool) []string {
	args := []string{WorkerCommand, FlagJob, strconv.FormatInt(jobID, 10), FlagClaimant, strconv.Itoa(claimant)}
	if continuous {
		args = append(args, FlagContinuous)
	}
	return args
}

// SpawnWorker runs one dispatch pass: sweep, capacity check, then fill each
// free slot by claiming the next eligible job for this process and launching
// a worker bound to it. The worker
// adopts the claim with a conditional transfer. Claims whose worker never
// starts, or exits before adopting them, are released.
func (d *Dispatcher) SpawnWorker(ctx context.Context, runCron bool) (SpawnResult, error) {
	var result SpawnResult
	sweep, err := d.Sweep(ctx, runCron)
	result.Sweep = sweep
	if err != nil {
		return result, err
	}

	if !d.cfg.Worker.Fork {
		processed, err := d.ProcessQueue(ctx, false)
		result.InProcess = &processed
		d.clearWake(ctx)
		return result, err
	}

	// Clear before reading the queue so a raise after this point is kept.
	d.clearWake(ctx)

	result.Allowed, result.Load = d.allowed()
	if result.Allowed == 0 {
		return result, nil
	}
	active, err := d.registry.Count(ctx, registry.CommandWorker)
	if err != nil {
		return result, err
	}
	result.Active = active
	free := result.Allowed - active
	if free <= 0 {
		d.logger.Debug("no free worker slots",
			logging.Int("active", active),
			logging.Int("allowed", result.Allowed),
		)
		return result, nil
	}

	for len(result.Spawned) < free {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return result, err
			}
		}
		// A claim lost to another process does not use up the slot.
		job, err := d.queue.ClaimNext(ctx, d.pid)
		if err != nil {
			return result, err
		}
		if job == nil {
			break
		}
		spawned, ok := d.spawnFor(ctx, job)
		if !ok {
			// The spawner is failing; the released job waits for the next pass.
			break
		}
		result.Spawned = append(result.Spawned, spawned)
	}
	return result, nil
}

// spawnFor launches a worker for a job this process has already claimed. The
// claim is released when the spawn fails.
func (d *Dispatcher) spawnFor(ctx context.Context, job *queue.Job) (Spawned, bool) {
	logger := logging.WithContext(logging.WithJob(ctx, job.ID, job.Command), d.logger)
	handle, err := d.spawner.SpawnWorker(ctx, WorkerArgs(job.ID, d.pid, d.cfg.Worker.Continuous))
	if err != nil {
		logging.ErrorWithContext(logger, "worker spawn failed", "worker_spawn_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that the drover binary is executable"),
		)
		if relErr := d.queue.Release(context.WithoutCancel(ctx), job.ID, d.pid); relErr != nil && !errors.Is(relErr, queue.ErrNotClaimed) {
			logger.Warn("claim release failed", logging.Error(relErr))
		}
		return Spawned{}, false
	}

	// Count the child as active right away; its own insert becomes a no-op.
	if _, err := d.registry.Insert(ctx, handle.PID(), registry.CommandWorker, ""); err != nil {
		logger.Warn("worker registration failed", logging.Int(logging.FieldPID, handle.PID()), logging.Error(err))
	}
	logger.Info("worker spawned",
		logging.Int(logging.FieldPID, handle.PID()),
		logging.String("priority", job.Priority.String()),
		logging.String(logging.FieldEventType, "worker_spawned"),
	)

	d.reapers.Add(1)
	go d.reap(context.WithoutCancel(ctx), job.ID, handle)
	return Spawned{JobID: job.ID, PID: handle.PID()}, true
}

// reap cleans up after a worker exits: its registry row and claims go, and
// the job is released if the worker died before adopting it.
func (d *Dispatcher) reap(ctx context.Context, jobID int64, handle procutil.Handle) {
	defer d.reapers.Done()
	<-handle.Done()
	pid := handle.PID()
	logger := d.logger.With(logging.Int(logging.FieldPID, pid))
	if err := handle.Err(); err != nil {
		logger.Debug("worker exited with error", logging.Error(err))
	}
	if err := d.registry.DeleteByPID(ctx, pid); err != nil {
		logger.Warn("worker row not removed", logging.Error(err))
	}
	if n, err := d.queue.UnclaimPID(ctx, pid); err != nil {
		logger.Warn("worker claims not released", logging.Error(err))
	} else if n > 0 {
		logger.Info("released claims of exited worker", logging.Int("jobs", n))
	}
	err := d.queue.Release(ctx, jobID, d.pid)
	switch {
	case err == nil:
		logging.WarnWithContext(logger, "worker exited before adopting its job", "handoff_lost",
			logging.Int64(logging.FieldJobID, jobID),
			logging.String(logging.FieldImpact, "job is eligible again"),
		)
	case !errors.Is(err, queue.ErrNotClaimed):
		logger.Warn("handoff claim not released", logging.Int64(logging.FieldJobID, jobID), logging.Error(err))
	}
	d.nudge(ctx)
}

// WaitHandoff waits until every claim this process took has been adopted by
// its worker, or timeout passes. One-shot dispatchers call it before exiting
// and then release whatever is left with UnclaimProcess.
func (d *Dispatcher) WaitHandoff(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(handoffInterval)
	defer ticker.Stop()
	for {
		held, err := d.queue.ClaimedBy(ctx, d.pid)
		if err != nil {
			return err
		}
		if len(held) == 0 || time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SpawnOnce is the one-shot dispatcher behind `worker -s`: it registers as a
// spawner so concurrent sweeps leave its claims alone, runs one pass, gives
// the workers handoff to adopt their jobs, then releases whatever is left
// and deregisters.
func (d *Dispatcher) SpawnOnce(ctx context.Context, runCron bool, handoff time.Duration) (SpawnResult, error) {
	if _, err := d.registry.Insert(ctx, d.pid, registry.CommandSpawner, d.session); err != nil {
		return SpawnResult{}, err
	}
	persistCtx := context.WithoutCancel(ctx)
	defer func() {
		released, err := d.UnclaimProcess(persistCtx)
		if err != nil {
			logging.WarnWithContext(d.logger, "spawner claims not released", "handoff_release_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "the next sweep releases the claims"),
			)
		} else if released > 0 {
			d.logger.Info("released claims not adopted by workers",
				logging.Int("released", released),
				logging.String(logging.FieldEventType, "handoff_timeout"),
			)
		}
		if err := d.EndProcess(persistCtx); err != nil {
			d.logger.Warn("spawner registry row not removed", logging.Error(err))
		}
	}()

	result, err := d.SpawnWorker(ctx, runCron)
	if err != nil {
		return result, err
	}
	if len(result.Spawned) > 0 {
		if err := d.WaitHandoff(ctx, handoff); err != nil && !errors.Is(err, context.Canceled) {
			return result, err
		}
	}
	return result, nil
}

func (d *Dispatcher) clearWake(ctx context.Context) {
	if d.wake == nil {
		return
	}
	if err := d.wake.Clear(ctx); err != nil {
		d.logger.Debug("wake signal not cleared", logging.Error(err))
	}
}

// nudge raises the wake signal while due work is waiting, so a slot freed by
// a finishing worker is refilled without waiting out the sleep phase.
func (d *Dispatcher) nudge(ctx context.Context) {
	if d.wake == nil {
		return
	}
	waiting, err := d.queue.HasEligible(ctx)
	if err != nil {
		d.logger.Debug("eligible work not checked", logging.Error(err))
		return
	}
	if !waiting {
		return
	}
	if err := d.wake.Raise(ctx); err != nil {
		d.logger.Debug("wake signal not raised", logging.Error(err))
	}
}
