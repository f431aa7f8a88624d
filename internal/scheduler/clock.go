package scheduler

import (
	"context"
	"time"
)

// Clock abstracts time for the loop.
type Clock interface {
	Now() time.Time
	// Sleep pauses for d, returning early when ctx ends or interrupt fires.
	Sleep(ctx context.Context, d time.Duration, interrupt <-chan struct{})
}

// SystemClock is the wall clock. time.Now carries a monotonic reading, so
// elapsed times are immune to clock steps.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration, interrupt <-chan struct{}) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-interrupt:
	case <-timer.C:
	}
}
