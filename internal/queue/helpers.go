package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"drover/internal/storage"
)

const maxErrorBytes = 2000

const jobColumns = "id, command, priority, parameters, created_at, scheduled_at, retry_count, max_retries, claimed_by, claimed_at, dead_lettered, last_error, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job       Job
		priority  int
		params    string
		created   int64
		scheduled int64
		claimedBy sql.NullInt64
		claimedAt sql.NullInt64
		dead      int
		lastError sql.NullString
		updated   int64
	)
	if err := scanner.Scan(
		&job.ID,
		&job.Command,
		&priority,
		&params,
		&created,
		&scheduled,
		&job.RetryCount,
		&job.MaxRetries,
		&claimedBy,
		&claimedAt,
		&dead,
		&lastError,
		&updated,
	); err != nil {
		return nil, err
	}
	job.Priority = Priority(priority)
	if err := json.Unmarshal([]byte(params), &job.Parameters); err != nil {
		return nil, fmt.Errorf("decode parameters of job %d: %w", job.ID, err)
	}
	job.CreatedAt = storage.FromStamp(created)
	job.ScheduledAt = storage.FromStamp(scheduled)
	if claimedBy.Valid {
		job.ClaimedBy = int(claimedBy.Int64)
	}
	job.ClaimedAt = storage.FromNullStamp(claimedAt)
	job.DeadLettered = dead != 0
	job.LastError = lastError.String
	job.UpdatedAt = storage.FromStamp(updated)
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// encodeParameters renders parameters canonically so identical calls
// produce identical column values for duplicate detection.
func encodeParameters(params []any) (string, error) {
	if params == nil {
		params = []any{}
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode parameters: %w", err)
	}
	return string(data), nil
}

// truncateError caps msg at maxErrorBytes without splitting a UTF-8 sequence.
func truncateError(msg string) string {
	if len(msg) <= maxErrorBytes {
		return msg
	}
	cut := maxErrorBytes
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
