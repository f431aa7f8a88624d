package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"drover/internal/config"
	"drover/internal/logging"
	"drover/internal/queue"
)

const lastRunKeyPrefix = "schedule.last_run."

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Parse validates a five-field cron expression or descriptor such as @hourly.
func Parse(spec string) (cron.Schedule, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("cron spec %q: %w", spec, err)
	}
	return sched, nil
}

// Entry is one parsed schedule.
type Entry struct {
	Name       string
	Spec       string
	Command    string
	Priority   queue.Priority
	Parameters []any
	schedule   cron.Schedule
}

// Next returns the first activation strictly after t.
func (e Entry) Next(t time.Time) time.Time {
	return e.schedule.Next(t)
}

// Scheduler enqueues due entries.
type Scheduler struct {
	entries []Entry
	queue   *queue.Queue
	now     func() time.Time
	logger  *slog.Logger
}

// Options configures a Scheduler.
type Options struct {
	Clock  func() time.Time
	Logger *slog.Logger
}

// New parses schedules and returns a scheduler enqueueing into q.
func New(q *queue.Queue, schedules []config.Schedule, opts Options) (*Scheduler, error) {
	entries := make([]Entry, 0, len(schedules))
	for _, s := range schedules {
		sched, err := Parse(s.Spec)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", s.Name, err)
		}
		priority, err := queue.ParsePriority(s.Priority)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", s.Name, err)
		}
		params := make([]any, 0, len(s.Parameters))
		for _, p := range s.Parameters {
			params = append(params, p)
		}
		entries = append(entries, Entry{
			Name:       s.Name,
			Spec:       s.Spec,
			Command:    s.Command,
			Priority:   priority,
			Parameters: params,
			schedule:   sched,
		})
	}
	s := &Scheduler{
		entries: entries,
		queue:   q,
		now:     opts.Clock,
		logger:  logging.NewComponentLogger(opts.Logger, "schedule"),
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Entries returns the parsed schedules in configuration order.
func (s *Scheduler) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

// LastRun returns when the named entry was last enqueued.
func (s *Scheduler) LastRun(ctx context.Context, name string) (time.Time, bool, error) {
	raw, ok, err := s.queue.DB().GetSetting(ctx, lastRunKeyPrefix+name)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("schedule %s: last run %q: %w", name, raw, err)
	}
	return time.Unix(0, nanos), true, nil
}

// EnqueueDue enqueues every entry whose next activation after its last run
// has passed. Entries that never ran are due at once. It returns the ids of
// the enqueued jobs.
func (s *Scheduler) EnqueueDue(ctx context.Context) ([]int64, error) {
	now := s.now()
	var ids []int64
	for _, entry := range s.entries {
		last, ran, err := s.LastRun(ctx, entry.Name)
		if err != nil {
			return ids, err
		}
		if ran && entry.Next(last).After(now) {
			continue
		}
		res, err := s.queue.Enqueue(ctx, entry.Command, entry.Priority, entry.Parameters, queue.EnqueueOptions{ForcePriority: true})
		if err != nil {
			return ids, fmt.Errorf("schedule %s: %w", entry.Name, err)
		}
		if err := s.queue.DB().SetSetting(ctx, lastRunKeyPrefix+entry.Name, strconv.FormatInt(now.UnixNano(), 10)); err != nil {
			return ids, err
		}
		ids = append(ids, res.ID)
		s.logger.Info("scheduled job enqueued",
			logging.String("schedule", entry.Name),
			logging.Int64(logging.FieldJobID, res.ID),
			logging.String(logging.FieldCommand, entry.Command),
			logging.Bool("created", res.Created),
			logging.Time("next_run", entry.Next(now)),
			logging.String(logging.FieldEventType, "schedule_enqueued"),
		)
	}
	return ids, nil
}
