package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"drover/internal/config"
	"drover/internal/logging"
	"drover/internal/storage"
	"drover/internal/wake"
)

// Queue is the job store shared by producers, the dispatcher and workers.
type Queue struct {
	db                *storage.DB
	wake              wake.Signal
	wakePriority      Priority
	retry             RetryPolicy
	demote            bool
	defaultMaxRetries int
	now               func() time.Time
	logger            *slog.Logger
}

// Options configures a Queue.
type Options struct {
	// Wake is raised for jobs at least as urgent as WakePriority. Nil
	// disables raising.
	Wake              wake.Signal
	WakePriority      Priority
	Retry             RetryPolicy
	Demote            bool
	DefaultMaxRetries int
	// Clock overrides time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
}

// New returns a queue over db.
func New(db *storage.DB, opts Options) *Queue {
	q := &Queue{
		db:                db,
		wake:              opts.Wake,
		wakePriority:      opts.WakePriority,
		retry:             opts.Retry,
		demote:            opts.Demote,
		defaultMaxRetries: opts.DefaultMaxRetries,
		now:               opts.Clock,
		logger:            logging.NewComponentLogger(opts.Logger, "queue"),
	}
	if q.now == nil {
		q.now = time.Now
	}
	if q.retry == nil {
		q.retry = ExponentialJitter{Initial: time.Minute, Max: time.Hour}
	}
	if !q.wakePriority.Valid() {
		q.wakePriority = PriorityMedium
	}
	return q
}

// NewFromConfig wires a queue from application configuration.
func NewFromConfig(cfg *config.Config, db *storage.DB, sig wake.Signal, logger *slog.Logger) (*Queue, error) {
	wakeAt, err := ParsePriority(cfg.Worker.WakePriority)
	if err != nil {
		return nil, fmt.Errorf("worker.wake_priority: %w", err)
	}
	policy, err := NewRetryPolicy(cfg.Retry)
	if err != nil {
		return nil, err
	}
	return New(db, Options{
		Wake:              sig,
		WakePriority:      wakeAt,
		Retry:             policy,
		Demote:            cfg.Retry.Demote,
		DefaultMaxRetries: cfg.Worker.DefaultMaxRetries,
		Logger:            logger,
	}), nil
}

// DB exposes the underlying database.
func (q *Queue) DB() *storage.DB {
	return q.db
}

// Enqueue adds a job. An identical waiting job (same command and parameters,
// unclaimed and not dead) is reused instead of duplicated; with
// ForcePriority its priority is rewritten. The wake signal is raised for
// wake-worthy priorities.
func (q *Queue) Enqueue(ctx context.Context, command string, priority Priority, params []any, opts EnqueueOptions) (EnqueueResult, error) {
	if command == "" {
		return EnqueueResult{}, errors.New("enqueue: command is required")
	}
	if !priority.Valid() {
		return EnqueueResult{}, fmt.Errorf("enqueue: invalid priority %d", int(priority))
	}
	encoded, err := encodeParameters(params)
	if err != nil {
		return EnqueueResult{}, err
	}
	maxRetries := q.defaultMaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	now := q.now()
	scheduled := now
	if opts.NotBefore.After(now) {
		scheduled = opts.NotBefore
	}
	nowStamp := storage.Stamp(now)

	res, err := q.db.Exec(ctx,
		`INSERT INTO jobs (command, priority, parameters, created_at, scheduled_at, retry_count, max_retries, dead_lettered, updated_at)
		 SELECT ?, ?, ?, ?, ?, 0, ?, 0, ?
		 WHERE NOT EXISTS (
		     SELECT 1 FROM jobs
		     WHERE command = ? AND parameters = ? AND claimed_by IS NULL AND dead_lettered = 0
		 )`,
		command, int(priority), encoded, nowStamp, storage.Stamp(scheduled), maxRetries, nowStamp,
		command, encoded)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("enqueue %s: %w", command, err)
	}

	result := EnqueueResult{}
	if affected, _ := res.RowsAffected(); affected > 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return EnqueueResult{}, fmt.Errorf("enqueue %s: last insert id: %w", command, err)
		}
		result.ID = id
		result.Created = true
	} else {
		var existing, existingPriority int64
		err := q.db.QueryRow(ctx, []any{&existing, &existingPriority},
			`SELECT id, priority FROM jobs
			 WHERE command = ? AND parameters = ? AND claimed_by IS NULL AND dead_lettered = 0
			 ORDER BY id LIMIT 1`, command, encoded)
		if errors.Is(err, sql.ErrNoRows) {
			// The duplicate was claimed in between; enqueue again.
			return q.Enqueue(ctx, command, priority, params, opts)
		}
		if err != nil {
			return EnqueueResult{}, fmt.Errorf("enqueue %s: find duplicate: %w", command, err)
		}
		result.ID = existing
		if opts.ForcePriority && Priority(existingPriority) != priority {
			affected, err := q.db.RowsAffected(ctx,
				"UPDATE jobs SET priority = ?, updated_at = ? WHERE id = ? AND claimed_by IS NULL",
				int(priority), nowStamp, existing)
			if err != nil {
				return EnqueueResult{}, fmt.Errorf("enqueue %s: force priority: %w", command, err)
			}
			result.PriorityChanged = affected > 0
		}
		if !result.PriorityChanged {
			q.logger.Debug("duplicate job not enqueued",
				logging.Int64(logging.FieldJobID, existing),
				logging.String(logging.FieldCommand, command),
				logging.String(logging.FieldEventType, "job_deduplicated"),
			)
			return result, nil
		}
	}

	q.logger.Debug("job enqueued",
		logging.Int64(logging.FieldJobID, result.ID),
		logging.String(logging.FieldCommand, command),
		logging.String("priority", priority.String()),
		logging.Time("scheduled_at", scheduled),
		logging.String(logging.FieldEventType, "job_enqueued"),
	)

	if q.wake != nil && priority.AtLeast(q.wakePriority) {
		if err := q.wake.Raise(ctx); err != nil {
			logging.WarnWithContext(q.logger, "wake signal not raised", "wake_raise_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "job waits for the next full sweep"),
			)
		}
	}
	return result, nil
}

// Get returns the job with id.
func (q *Queue) Get(ctx context.Context, id int64) (*Job, error) {
	rows, err := q.db.Query(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return jobs[0], nil
}

// NextEligible returns up to limit unclaimed live jobs that are due, most
// urgent first, then oldest scheduled_at, then lowest id.
func (q *Queue) NextEligible(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := q.db.Query(ctx,
		"SELECT "+jobColumns+` FROM jobs
		 WHERE claimed_by IS NULL AND dead_lettered = 0 AND scheduled_at <= ?
		 ORDER BY priority, scheduled_at, id
		 LIMIT ?`,
		storage.Stamp(q.now()), limit)
	if err != nil {
		return nil, fmt.Errorf("next eligible: %w", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("next eligible: %w", err)
	}
	return jobs, nil
}

// HasEligible reports whether any job is claimable now.
func (q *Queue) HasEligible(ctx context.Context) (bool, error) {
	var count int
	err := q.db.QueryRow(ctx, []any{&count},
		"SELECT COUNT(1) FROM (SELECT 1 FROM jobs WHERE claimed_by IS NULL AND dead_lettered = 0 AND scheduled_at <= ? LIMIT 1)",
		storage.Stamp(q.now()))
	if err != nil {
		return false, fmt.Errorf("check eligible: %w", err)
	}
	return count > 0, nil
}
