package queue

import (
	"context"
	"fmt"
	"strings"

	"drover/internal/storage"
)

// List returns jobs matching filter ordered like the dispatcher drains them.
func (q *Queue) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	now := storage.Stamp(q.now())
	query := "SELECT " + jobColumns + " FROM jobs"
	var args []any
	switch filter.State {
	case "":
	case StatePending:
		query += " WHERE claimed_by IS NULL AND dead_lettered = 0 AND scheduled_at <= ?"
		args = append(args, now)
	case StateDeferred:
		query += " WHERE claimed_by IS NULL AND dead_lettered = 0 AND scheduled_at > ?"
		args = append(args, now)
	case StateClaimed:
		query += " WHERE claimed_by IS NOT NULL"
	case StateDead:
		query += " WHERE dead_lettered = 1"
	default:
		return nil, fmt.Errorf("list jobs: unknown state %q", filter.State)
	}
	query += " ORDER BY dead_lettered, priority, scheduled_at, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// DeadLetters returns every dead-lettered job.
func (q *Queue) DeadLetters(ctx context.Context) ([]*Job, error) {
	return q.List(ctx, ListFilter{State: StateDead})
}

// Stats counts jobs per state and waiting jobs per priority.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Waiting: make(map[Priority]int)}
	rows, err := q.db.Query(ctx,
		`SELECT priority,
		     CASE WHEN dead_lettered = 1 THEN 'dead'
		          WHEN claimed_by IS NOT NULL THEN 'claimed'
		          WHEN scheduled_at > ? THEN 'deferred'
		          ELSE 'due' END AS state,
		     COUNT(1)
		 FROM jobs GROUP BY priority, state`,
		storage.Stamp(q.now()))
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			priority int
			state    string
			count    int
		)
		if err := rows.Scan(&priority, &state, &count); err != nil {
			return stats, err
		}
		switch state {
		case "dead":
			stats.Dead += count
		case "claimed":
			stats.Claimed += count
		case "deferred":
			stats.Deferred += count
			stats.Waiting[Priority(priority)] += count
		default:
			stats.Due += count
			stats.Waiting[Priority(priority)] += count
		}
	}
	return stats, rows.Err()
}

// Requeue returns dead-lettered jobs to the queue, due now, with a fresh
// retry budget. retry_count keeps its history; max_retries is raised past it.
func (q *Queue) Requeue(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := storage.Stamp(q.now())
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{q.defaultMaxRetries, now, now}
	for _, id := range ids {
		args = append(args, id)
	}
	affected, err := q.db.RowsAffected(ctx,
		`UPDATE jobs SET dead_lettered = 0, max_retries = retry_count + ?, scheduled_at = MAX(?, created_at),
		     claimed_by = NULL, claimed_at = NULL, updated_at = ?
		 WHERE dead_lettered = 1 AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("requeue jobs: %w", err)
	}
	if affected > 0 && q.wake != nil {
		_ = q.wake.Raise(ctx)
	}
	return affected, nil
}

// PurgeDead deletes every dead-lettered job.
func (q *Queue) PurgeDead(ctx context.Context) (int64, error) {
	affected, err := q.db.RowsAffected(ctx, "DELETE FROM jobs WHERE dead_lettered = 1")
	if err != nil {
		return 0, fmt.Errorf("purge dead letters: %w", err)
	}
	return affected, nil
}
