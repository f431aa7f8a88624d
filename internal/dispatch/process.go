package dispatch

import (
	"context"
	"errors"
	"time"

	"drover/internal/jobs"
	"drover/internal/logging"
	"drover/internal/queue"
	"drover/internal/registry"
)

// ProcessResult counts what a worker did.
type ProcessResult struct {
	Executed     int
	Succeeded    int
	Deferred     int
	DeadLettered int
	// Released counts jobs handed back because the worker was stopping.
	Released int
	// Overloaded is set when the load check refused to run anything.
	Overloaded bool
}

// ProcessQueue claims and executes jobs in this process until the queue is
// empty, the cron interval has elapsed, the job budget is spent or ctx is
// cancelled. When runCron is set the sweep and scheduled jobs come first.
// Claims still held at the end are released and the registry row removed.
func (d *Dispatcher) ProcessQueue(ctx context.Context, runCron bool) (ProcessResult, error) {
	var result ProcessResult
	if allowed, _ := d.allowed(); allowed == 0 {
		result.Overloaded = true
		return result, nil
	}

	created, err := d.registry.Insert(ctx, d.pid, registry.CommandWorker, d.session)
	if err != nil {
		return result, err
	}
	// Inside the supervisor the row belongs to the daemon and stays.
	defer d.finish(ctx, created)

	if runCron {
		if _, err := d.Sweep(ctx, true); err != nil {
			return result, err
		}
	}

	stop := d.startHeartbeat(ctx)
	defer stop()
	return result, d.drain(ctx, &result, d.cfg.Worker.JobBudget)
}

// RunAssigned is the body of a spawned worker: adopt the claim the
// supervisor took for jobID, execute it, and in continuous mode keep
// draining the queue.
func (d *Dispatcher) RunAssigned(ctx context.Context, jobID int64, claimant int, continuous bool) (ProcessResult, error) {
	var result ProcessResult
	if _, err := d.registry.Insert(ctx, d.pid, registry.CommandWorker, d.session); err != nil {
		return result, err
	}
	defer d.finish(ctx, true)

	stop := d.startHeartbeat(ctx)
	defer stop()

	logger := logging.WithContext(logging.WithJob(ctx, jobID, ""), d.logger)
	err := d.queue.TransferClaim(ctx, jobID, claimant, d.pid)
	switch {
	case errors.Is(err, queue.ErrClaimConflict):
		logger.Info("assigned job no longer held by supervisor",
			logging.Int("claimant", claimant),
			logging.String(logging.FieldEventType, "handoff_skipped"),
		)
	case err != nil:
		return result, err
	default:
		job, err := d.queue.Get(ctx, jobID)
		if err != nil {
			return result, err
		}
		job.ClaimedBy = d.pid
		d.execute(ctx, job, &result)
	}

	if !continuous {
		d.nudge(context.WithoutCancel(ctx))
		return result, nil
	}
	budget := d.cfg.Worker.JobBudget
	if budget > 0 {
		budget -= result.Executed
		if budget <= 0 {
			d.nudge(context.WithoutCancel(ctx))
			return result, nil
		}
	}
	return result, d.drain(ctx, &result, budget)
}

// drain claims and executes jobs one at a time. budget <= 0 is unlimited.
func (d *Dispatcher) drain(ctx context.Context, result *ProcessResult, budget int) error {
	lifetime := time.Duration(d.cfg.Worker.CronInterval) * time.Minute
	deadline := d.now().Add(lifetime)
	executed := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if lifetime > 0 && !d.now().Before(deadline) {
			d.logger.Info("worker lifetime reached", logging.Duration("lifetime", lifetime))
			d.nudge(ctx)
			return nil
		}
		if budget > 0 && executed >= budget {
			d.nudge(ctx)
			return nil
		}
		job, err := d.queue.ClaimNext(ctx, d.pid)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if job == nil {
			return nil
		}
		d.execute(ctx, job, result)
		executed++
	}
}

// execute runs a claimed job and records its outcome. Handler failures never
// escape; they become retries or dead letters.
func (d *Dispatcher) execute(ctx context.Context, job *queue.Job, result *ProcessResult) {
	jobCtx := logging.WithJob(ctx, job.ID, job.Command)
	logger := logging.WithContext(jobCtx, d.logger)
	// Bookkeeping must land even when the run context is being cancelled.
	persistCtx := context.WithoutCancel(ctx)

	started := d.now()
	logger.Info("job started",
		logging.String("priority", job.Priority.String()),
		logging.Int("attempt", job.RetryCount+1),
		logging.String(logging.FieldEventType, "job_start"),
	)
	runErr := d.handlers.Run(jobCtx, jobs.Invocation{
		JobID:      job.ID,
		Command:    job.Command,
		Parameters: job.Parameters,
		Attempt:    job.RetryCount + 1,
		Logger:     logger,
	})
	result.Executed++
	elapsed := d.now().Sub(started)

	switch {
	case runErr == nil:
		if err := d.queue.Complete(persistCtx, job.ID, d.pid); err != nil {
			logger.Warn("completed job not removed", logging.Error(err))
			return
		}
		result.Succeeded++
		logger.Info("job finished",
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldEventType, "job_done"),
		)

	case ctx.Err() != nil && errors.Is(runErr, ctx.Err()):
		if err := d.queue.Release(persistCtx, job.ID, d.pid); err != nil && !errors.Is(err, queue.ErrNotClaimed) {
			logger.Warn("interrupted job not released", logging.Error(err))
			return
		}
		result.Released++
		logger.Info("job interrupted by shutdown",
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldEventType, "job_released"),
		)

	default:
		outcome, err := d.queue.Fail(persistCtx, job, d.pid, runErr)
		if err != nil {
			logger.Warn("job failure not recorded", logging.Error(err), logging.String("cause", runErr.Error()))
			return
		}
		if outcome.DeadLettered {
			result.DeadLettered++
			return
		}
		result.Deferred++
		logging.WarnWithContext(logger, "job failed", "job_failed",
			logging.Error(runErr),
			logging.Int("retry_count", outcome.Retry),
			logging.Time("next_attempt", outcome.NextAttempt),
			logging.String(logging.FieldImpact, "job will be retried"),
		)
	}
}

func (d *Dispatcher) finish(ctx context.Context, endProcess bool) {
	ctx = context.WithoutCancel(ctx)
	if n, err := d.UnclaimProcess(ctx); err != nil {
		d.logger.Warn("claims not released", logging.Error(err))
	} else if n > 0 {
		d.logger.Info("released remaining claims", logging.Int("jobs", n))
	}
	if !endProcess {
		return
	}
	if err := d.EndProcess(ctx); err != nil {
		d.logger.Warn("process row not removed", logging.Error(err))
	}
}
