package queue

import (
	"context"
	"errors"
	"fmt"

	"drover/internal/logging"
	"drover/internal/storage"
)

// Claim marks job id as owned by pid. It fails with ErrClaimConflict when the
// job is already claimed, dead-lettered or gone.
func (q *Queue) Claim(ctx context.Context, id int64, pid int) error {
	now := storage.Stamp(q.now())
	affected, err := q.db.RowsAffected(ctx,
		`UPDATE jobs SET claimed_by = ?, claimed_at = ?, updated_at = ?
		 WHERE id = ? AND claimed_by IS NULL AND dead_lettered = 0`,
		pid, now, now, id)
	if err != nil {
		return fmt.Errorf("claim job %d: %w", id, err)
	}
	if affected == 0 {
		return ErrClaimConflict
	}
	return nil
}

// ClaimNext claims the most urgent eligible job for pid, skipping jobs lost
// to other claimants. It returns nil when nothing is claimable.
func (q *Queue) ClaimNext(ctx context.Context, pid int) (*Job, error) {
	const batch = 8
	for {
		candidates, err := q.NextEligible(ctx, batch)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, nil
		}
		for _, job := range candidates {
			err := q.Claim(ctx, job.ID, pid)
			if errors.Is(err, ErrClaimConflict) {
				continue
			}
			if err != nil {
				return nil, err
			}
			job.ClaimedBy = pid
			job.ClaimedAt = q.now()
			return job, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// TransferClaim hands a claim from one pid to another. The spawned worker
// uses it to adopt the claim its supervisor took on its behalf.
func (q *Queue) TransferClaim(ctx context.Context, id int64, from, to int) error {
	now := storage.Stamp(q.now())
	affected, err := q.db.RowsAffected(ctx,
		"UPDATE jobs SET claimed_by = ?, claimed_at = ?, updated_at = ? WHERE id = ? AND claimed_by = ? AND dead_lettered = 0",
		to, now, now, id, from)
	if err != nil {
		return fmt.Errorf("transfer job %d: %w", id, err)
	}
	if affected == 0 {
		return ErrClaimConflict
	}
	return nil
}

// Release clears pid's claim on id without counting a failure.
// scheduled_at is left unchanged.
func (q *Queue) Release(ctx context.Context, id int64, pid int) error {
	affected, err := q.db.RowsAffected(ctx,
		"UPDATE jobs SET claimed_by = NULL, claimed_at = NULL, updated_at = ? WHERE id = ? AND claimed_by = ?",
		storage.Stamp(q.now()), id, pid)
	if err != nil {
		return fmt.Errorf("release job %d: %w", id, err)
	}
	if affected == 0 {
		return ErrNotClaimed
	}
	return nil
}

// Complete deletes a successfully executed job held by pid.
func (q *Queue) Complete(ctx context.Context, id int64, pid int) error {
	affected, err := q.db.RowsAffected(ctx, "DELETE FROM jobs WHERE id = ? AND claimed_by = ?", id, pid)
	if err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	if affected == 0 {
		return ErrNotClaimed
	}
	return nil
}

// Fail records a failed attempt of job by pid. Permanent failures and jobs
// whose retry_count exceeds max_retries are dead-lettered; others are
// rescheduled after the retry policy's delay and released.
func (q *Queue) Fail(ctx context.Context, job *Job, pid int, cause error) (FailureOutcome, error) {
	msg := "failed"
	if cause != nil {
		msg = truncateError(cause.Error())
	}
	now := q.now()
	retry := job.RetryCount + 1
	outcome := FailureOutcome{Retry: retry, Priority: job.Priority}

	if IsPermanent(cause) || retry > job.MaxRetries {
		affected, err := q.db.RowsAffected(ctx,
			`UPDATE jobs SET retry_count = ?, dead_lettered = 1, claimed_by = NULL, claimed_at = NULL,
			     last_error = ?, updated_at = ?
			 WHERE id = ? AND claimed_by = ?`,
			retry, msg, storage.Stamp(now), job.ID, pid)
		if err != nil {
			return outcome, fmt.Errorf("dead-letter job %d: %w", job.ID, err)
		}
		if affected == 0 {
			return outcome, ErrNotClaimed
		}
		outcome.DeadLettered = true
		logging.WarnWithContext(q.logger, "job dead-lettered", "job_dead_lettered",
			logging.Int64(logging.FieldJobID, job.ID),
			logging.String(logging.FieldCommand, job.Command),
			logging.Int("retry_count", retry),
			logging.Int("max_retries", job.MaxRetries),
			logging.String("last_error", msg),
			logging.String(logging.FieldErrorHint, "inspect with 'drover queue dead' and requeue once fixed"),
			logging.String(logging.FieldImpact, "job will not run again without operator action"),
		)
		return outcome, nil
	}

	next := now.Add(q.retry.Delay(retry))
	if next.Before(job.CreatedAt) {
		next = job.CreatedAt
	}
	if q.demote {
		outcome.Priority = demoted(job.Priority, retry)
	}
	affected, err := q.db.RowsAffected(ctx,
		`UPDATE jobs SET retry_count = ?, scheduled_at = ?, priority = ?, claimed_by = NULL, claimed_at = NULL,
		     last_error = ?, updated_at = ?
		 WHERE id = ? AND claimed_by = ?`,
		retry, storage.Stamp(next), int(outcome.Priority), msg, storage.Stamp(now), job.ID, pid)
	if err != nil {
		return outcome, fmt.Errorf("defer job %d: %w", job.ID, err)
	}
	if affected == 0 {
		return outcome, ErrNotClaimed
	}
	outcome.NextAttempt = next
	q.logger.Info("job deferred",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldCommand, job.Command),
		logging.Int("retry_count", retry),
		logging.Time("next_attempt", next),
		logging.String("priority", outcome.Priority.String()),
		logging.String(logging.FieldEventType, "job_deferred"),
	)
	return outcome, nil
}

// ClaimedBy returns the ids of jobs held by pid.
func (q *Queue) ClaimedBy(ctx context.Context, pid int) ([]int64, error) {
	rows, err := q.db.Query(ctx, "SELECT id FROM jobs WHERE claimed_by = ? ORDER BY id", pid)
	if err != nil {
		return nil, fmt.Errorf("claimed jobs of %d: %w", pid, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UnclaimPID releases every claim held by pid, one conditional update per
// job, leaving scheduled_at untouched. It returns how many were released.
func (q *Queue) UnclaimPID(ctx context.Context, pid int) (int, error) {
	ids, err := q.ClaimedBy(ctx, pid)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, id := range ids {
		err := q.Release(ctx, id, pid)
		if errors.Is(err, ErrNotClaimed) {
			continue
		}
		if err != nil {
			return released, err
		}
		released++
	}
	return released, nil
}

// UnclaimOrphaned releases pid's claims only while pid has no registry row.
// The check runs inside each update, so a process that registers and claims
// after the caller decided pid was gone keeps its jobs.
func (q *Queue) UnclaimOrphaned(ctx context.Context, pid int) (int, error) {
	ids, err := q.ClaimedBy(ctx, pid)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, id := range ids {
		affected, err := q.db.RowsAffected(ctx,
			`UPDATE jobs SET claimed_by = NULL, claimed_at = NULL, updated_at = ?
			 WHERE id = ? AND claimed_by = ? AND NOT EXISTS (SELECT 1 FROM processes WHERE pid = ?)`,
			storage.Stamp(q.now()), id, pid, pid)
		if err != nil {
			return released, fmt.Errorf("release orphaned job %d: %w", id, err)
		}
		released += int(affected)
	}
	return released, nil
}
