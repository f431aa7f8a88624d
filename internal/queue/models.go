package queue

import (
	"encoding/json"
	"time"
)

// Job is one queued unit of background work.
type Job struct {
	ID           int64
	Command      string
	Priority     Priority
	Parameters   []json.RawMessage
	CreatedAt    time.Time
	ScheduledAt  time.Time
	RetryCount   int
	MaxRetries   int
	ClaimedBy    int
	ClaimedAt    time.Time
	DeadLettered bool
	LastError    string
	UpdatedAt    time.Time
}

// Claimed reports whether a process holds the job.
func (j *Job) Claimed() bool {
	return j.ClaimedBy != 0
}

// State names the job's lifecycle position for display.
func (j *Job) State(now time.Time) string {
	switch {
	case j.DeadLettered:
		return StateDead
	case j.Claimed():
		return StateClaimed
	case j.ScheduledAt.After(now):
		return StateDeferred
	default:
		return StatePending
	}
}

// Job states reported by State and accepted by ListFilter.
const (
	StatePending  = "pending"
	StateDeferred = "deferred"
	StateClaimed  = "claimed"
	StateDead     = "dead"
)

// EnqueueOptions tunes a single Enqueue call.
type EnqueueOptions struct {
	// NotBefore delays eligibility; zero means now.
	NotBefore time.Time
	// MaxRetries overrides the configured default when non-nil.
	MaxRetries *int
	// ForcePriority updates the priority of an identical waiting job
	// instead of leaving it unchanged.
	ForcePriority bool
}

// EnqueueResult reports what Enqueue did.
type EnqueueResult struct {
	ID int64
	// Created is false when an identical waiting job already existed.
	Created bool
	// PriorityChanged is set when ForcePriority rewrote an existing job.
	PriorityChanged bool
}

// FailureOutcome describes how a failed job was handled.
type FailureOutcome struct {
	Retry        int
	DeadLettered bool
	NextAttempt  time.Time
	Priority     Priority
}

// ListFilter narrows List results.
type ListFilter struct {
	// State is one of the State* constants; empty lists everything.
	State string
	Limit int
}

// Stats summarizes the queue for operators.
type Stats struct {
	// Waiting counts unclaimed live jobs per priority, due or not.
	Waiting  map[Priority]int
	Due      int
	Deferred int
	Claimed  int
	Dead     int
}

// Total returns the number of live and dead jobs.
func (s Stats) Total() int {
	total := s.Claimed + s.Dead
	for _, n := range s.Waiting {
		total += n
	}
	return total
}

// SweepResult reports what RecoverOrphans healed.
type SweepResult struct {
	// Terminated lists live workers killed for missing heartbeats.
	Terminated []int
	// RemovedProcesses lists registry rows deleted because the pid is gone.
	RemovedProcesses []int
	// Released counts jobs whose orphaned claims were cleared.
	Released int
}
