package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"drover/internal/config"
	"drover/internal/queue"
	"drover/internal/registry"
	"drover/internal/storage"
	"drover/internal/testsupport"
	"drover/internal/wake"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixedDelay time.Duration

func (f fixedDelay) Delay(int) time.Duration { return time.Duration(f) }

type env struct {
	cfg   *config.Config
	db    *storage.DB
	q     *queue.Queue
	clock *clock
	wake  wake.Signal
}

func newEnv(t *testing.T, mutate ...func(*queue.Options)) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenStore(t, cfg)
	clk := newClock()
	sig := wake.NewStore(db)
	opts := queue.Options{
		Wake:              sig,
		WakePriority:      queue.PriorityMedium,
		Retry:             fixedDelay(time.Minute),
		DefaultMaxRetries: 3,
		Clock:             clk.Now,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	return &env{cfg: cfg, db: db, q: queue.New(db, opts), clock: clk, wake: sig}
}

func (e *env) enqueue(t *testing.T, command string, priority queue.Priority, params ...any) int64 {
	t.Helper()
	res, err := e.q.Enqueue(context.Background(), command, priority, params, queue.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue %s failed: %v", command, err)
	}
	if !res.Created {
		t.Fatalf("expected %s to be created", command)
	}
	return res.ID
}

func TestNextEligibleOrdersByPriorityThenSchedule(t *testing.T) {
	e := newEnv(t)
	low := e.enqueue(t, "Low", queue.PriorityLow)
	e.clock.Advance(time.Second)
	highLater := e.enqueue(t, "HighLater", queue.PriorityHigh)
	critical := e.enqueue(t, "Critical", queue.PriorityCritical)
	e.clock.Advance(-2 * time.Second)
	highEarlier := e.enqueue(t, "HighEarlier", queue.PriorityHigh)
	e.clock.Advance(5 * time.Second)

	jobs, err := e.q.NextEligible(context.Background(), 10)
	if err != nil {
		t.Fatalf("NextEligible failed: %v", err)
	}
	want := []int64{critical, highEarlier, highLater, low}
	if len(jobs) != len(want) {
		t.Fatalf("expected %d jobs, got %d", len(want), len(jobs))
	}
	for i, job := range jobs {
		if job.ID != want[i] {
			t.Fatalf("position %d: got job %d (%s), want %d", i, job.ID, job.Command, want[i])
		}
	}

	claimed, err := e.q.ClaimNext(context.Background(), 500)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if claimed == nil || claimed.ID != critical {
		t.Fatalf("expected critical job claimed first, got %+v", claimed)
	}
}

func TestNextEligibleSkipsFutureJobs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res, err := e.q.Enqueue(ctx, "Later", queue.PriorityHigh, nil, queue.EnqueueOptions{NotBefore: e.clock.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	jobs, err := e.q.NextEligible(ctx, 5)
	if err != nil || len(jobs) != 0 {
		t.Fatalf("expected no eligible jobs, got %d (%v)", len(jobs), err)
	}
	e.clock.Advance(time.Hour)
	jobs, err = e.q.NextEligible(ctx, 5)
	if err != nil || len(jobs) != 1 || jobs[0].ID != res.ID {
		t.Fatalf("expected job eligible after delay, got %v (%v)", jobs, err)
	}
}

func TestConcurrentClaimsHaveSingleWinner(t *testing.T) {
	e := newEnv(t)
	id := e.enqueue(t, "Contended", queue.PriorityHigh)

	const contenders = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		winners   int
		conflicts int
	)
	for i := 0; i < contenders; i++ {
		// Each contender opens its own connection like a separate process.
		db, err := storage.Open(e.cfg)
		if err != nil {
			t.Fatalf("open contender db: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		q := queue.New(db, queue.Options{})
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			err := q.Claim(context.Background(), id, pid)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, queue.ErrClaimConflict):
				conflicts++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}(1000 + i)
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
	if conflicts != contenders-1 {
		t.Fatalf("expected %d conflicts, got %d", contenders-1, conflicts)
	}
}

func TestFailureDeadLettersAfterMaxRetries(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	maxRetries := 2
	res, err := e.q.Enqueue(ctx, "Flaky", queue.PriorityMedium, []any{"x"}, queue.EnqueueOptions{MaxRetries: &maxRetries})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		job, err := e.q.ClaimNext(ctx, 42)
		if err != nil {
			t.Fatalf("attempt %d: ClaimNext failed: %v", attempt, err)
		}
		if job == nil || job.ID != res.ID {
			t.Fatalf("attempt %d: expected job %d, got %+v", attempt, res.ID, job)
		}
		outcome, err := e.q.Fail(ctx, job, 42, errors.New("boom"))
		if err != nil {
			t.Fatalf("attempt %d: Fail failed: %v", attempt, err)
		}
		if outcome.Retry != attempt {
			t.Fatalf("attempt %d: retry count %d", attempt, outcome.Retry)
		}
		wantDead := attempt > maxRetries
		if outcome.DeadLettered != wantDead {
			t.Fatalf("attempt %d: dead=%v want %v", attempt, outcome.DeadLettered, wantDead)
		}
		if !wantDead {
			if !outcome.NextAttempt.Equal(e.clock.Now().Add(time.Minute)) {
				t.Fatalf("attempt %d: unexpected next attempt %v", attempt, outcome.NextAttempt)
			}
			e.clock.Advance(time.Minute)
		}
	}

	e.clock.Advance(24 * time.Hour)
	jobs, err := e.q.NextEligible(ctx, 10)
	if err != nil || len(jobs) != 0 {
		t.Fatalf("dead job returned by NextEligible: %v (%v)", jobs, err)
	}
	job, err := e.q.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !job.DeadLettered || job.LastError != "boom" || job.RetryCount != maxRetries+1 {
		t.Fatalf("unexpected dead job: %+v", job)
	}
	if err := e.q.Claim(ctx, res.ID, 7); !errors.Is(err, queue.ErrClaimConflict) {
		t.Fatalf("expected dead job to be unclaimable, got %v", err)
	}
}

type permanent struct{}

func (permanent) Error() string   { return "unknown command" }
func (permanent) Permanent() bool { return true }

func TestPermanentFailureDeadLettersImmediately(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.enqueue(t, "Missing", queue.PriorityLow)
	job, err := e.q.ClaimNext(ctx, 9)
	if err != nil || job == nil {
		t.Fatalf("ClaimNext = %+v, %v", job, err)
	}
	outcome, err := e.q.Fail(ctx, job, 9, permanent{})
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if !outcome.DeadLettered {
		t.Fatal("expected permanent failure to dead-letter")
	}
}

func TestFailureDemotesPriority(t *testing.T) {
	e := newEnv(t, func(o *queue.Options) {
		o.Demote = true
		o.DefaultMaxRetries = 20
	})
	ctx := context.Background()
	id := e.enqueue(t, "Slow", queue.PriorityHigh)

	var last queue.Priority
	for attempt := 1; attempt <= 9; attempt++ {
		e.clock.Advance(time.Hour)
		job, err := e.q.ClaimNext(ctx, 3)
		if err != nil || job == nil || job.ID != id {
			t.Fatalf("attempt %d: ClaimNext = %+v, %v", attempt, job, err)
		}
		outcome, err := e.q.Fail(ctx, job, 3, errors.New("again"))
		if err != nil {
			t.Fatalf("attempt %d: Fail failed: %v", attempt, err)
		}
		last = outcome.Priority
		switch {
		case attempt <= 3 && last != queue.PriorityHigh:
			t.Fatalf("attempt %d: demoted too early to %s", attempt, last)
		case attempt > 3 && attempt <= 6 && last != queue.PriorityMedium:
			t.Fatalf("attempt %d: expected medium, got %s", attempt, last)
		case attempt > 6 && attempt <= 8 && last != queue.PriorityLow:
			t.Fatalf("attempt %d: expected low, got %s", attempt, last)
		}
	}
	if last != queue.PriorityNegligible {
		t.Fatalf("expected negligible after 9 retries, got %s", last)
	}
}

func TestUnclaimPIDKeepsScheduleAndMakesJobEligible(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.enqueue(t, "Interrupted", queue.PriorityMedium)
	before, err := e.q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := e.q.Claim(ctx, id, 77); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	e.clock.Advance(10 * time.Second)

	released, err := e.q.UnclaimPID(ctx, 77)
	if err != nil || released != 1 {
		t.Fatalf("UnclaimPID = %d, %v", released, err)
	}
	after, err := e.q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !after.ScheduledAt.Equal(before.ScheduledAt) {
		t.Fatalf("scheduled_at changed from %v to %v", before.ScheduledAt, after.ScheduledAt)
	}
	if after.RetryCount != 0 || after.Claimed() {
		t.Fatalf("unexpected job after unclaim: %+v", after)
	}
	jobs, err := e.q.NextEligible(ctx, 1)
	if err != nil || len(jobs) != 1 || jobs[0].ID != id {
		t.Fatalf("expected job eligible again, got %v (%v)", jobs, err)
	}
}

func TestTransferClaimRequiresCurrentHolder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.enqueue(t, "Handoff", queue.PriorityHigh)
	if err := e.q.Claim(ctx, id, 10); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if err := e.q.TransferClaim(ctx, id, 11, 12); !errors.Is(err, queue.ErrClaimConflict) {
		t.Fatalf("expected conflict from non-holder, got %v", err)
	}
	if err := e.q.TransferClaim(ctx, id, 10, 12); err != nil {
		t.Fatalf("TransferClaim failed: %v", err)
	}
	if err := e.q.Complete(ctx, id, 10); !errors.Is(err, queue.ErrNotClaimed) {
		t.Fatalf("expected old holder unable to complete, got %v", err)
	}
	if err := e.q.Complete(ctx, id, 12); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if _, err := e.q.Get(ctx, id); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected completed job deleted, got %v", err)
	}
}

func TestRecoverOrphansReleasesClaimsInOneSweep(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	reg := registry.New(e.db).WithClock(e.clock.Now)
	prober := testsupport.NewProber(200, 300)

	orphan := e.enqueue(t, "Orphan", queue.PriorityHigh)
	deadWorker := e.enqueue(t, "DeadWorker", queue.PriorityHigh)
	healthy := e.enqueue(t, "Healthy", queue.PriorityHigh)

	// pid 100 never registered; pid 150 registered but dead; pid 200 alive.
	if _, err := reg.Insert(ctx, 150, registry.CommandWorker, ""); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := reg.Insert(ctx, 200, registry.CommandWorker, ""); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	for id, pid := range map[int64]int{orphan: 100, deadWorker: 150, healthy: 200} {
		if err := e.q.Claim(ctx, id, pid); err != nil {
			t.Fatalf("Claim %d failed: %v", id, err)
		}
	}

	result, err := e.q.RecoverOrphans(ctx, reg, prober, 0)
	if err != nil {
		t.Fatalf("RecoverOrphans failed: %v", err)
	}
	if result.Released != 2 {
		t.Fatalf("expected 2 released claims, got %d", result.Released)
	}
	if len(result.RemovedProcesses) != 1 || result.RemovedProcesses[0] != 150 {
		t.Fatalf("unexpected removed processes: %v", result.RemovedProcesses)
	}

	jobs, err := e.q.NextEligible(ctx, 10)
	if err != nil {
		t.Fatalf("NextEligible failed: %v", err)
	}
	got := map[int64]bool{}
	for _, job := range jobs {
		got[job.ID] = true
	}
	if !got[orphan] || !got[deadWorker] || got[healthy] {
		t.Fatalf("unexpected eligible set after sweep: %v", got)
	}
}

func TestRecoverOrphansKeepsClaimsOfWorkersRegisteredMidSweep(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	reg := registry.New(e.db).WithClock(e.clock.Now)
	prober := testsupport.NewProber(777)

	orphan := e.enqueue(t, "Orphan", queue.PriorityHigh)
	adopted := e.enqueue(t, "Adopted", queue.PriorityHigh)
	if err := e.q.Claim(ctx, orphan, 100); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	if _, err := reg.Insert(ctx, 150, registry.CommandWorker, ""); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	// Worker 777 starts after the sweep listed the registry and claims a job
	// before the sweep reads the claimants.
	var once sync.Once
	prober.OnAlive(func(int) {
		once.Do(func() {
			if _, err := reg.Insert(ctx, 777, registry.CommandWorker, ""); err != nil {
				t.Errorf("Insert 777 failed: %v", err)
			}
			if err := e.q.Claim(ctx, adopted, 777); err != nil {
				t.Errorf("Claim by 777 failed: %v", err)
			}
		})
	})

	result, err := e.q.RecoverOrphans(ctx, reg, prober, 0)
	if err != nil {
		t.Fatalf("RecoverOrphans failed: %v", err)
	}
	if result.Released != 1 {
		t.Fatalf("expected only the orphan released, got %d", result.Released)
	}
	job, err := e.q.Get(ctx, adopted)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.ClaimedBy != 777 {
		t.Fatalf("expected worker 777 to keep its claim, got claimed_by=%d", job.ClaimedBy)
	}
	job, err = e.q.Get(ctx, orphan)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.Claimed() {
		t.Fatalf("expected orphan released, still claimed by %d", job.ClaimedBy)
	}
}

func TestRecoverOrphansTerminatesHungWorkers(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	reg := registry.New(e.db).WithClock(e.clock.Now)
	prober := testsupport.NewProber(400, 500)

	if _, err := reg.Insert(ctx, 400, registry.CommandWorker, ""); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := reg.Insert(ctx, 500, registry.CommandDaemon, ""); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	id := e.enqueue(t, "Hung", queue.PriorityHigh)
	if err := e.q.Claim(ctx, id, 400); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}

	e.clock.Advance(10 * time.Minute)
	result, err := e.q.RecoverOrphans(ctx, reg, prober, 5*time.Minute)
	if err != nil {
		t.Fatalf("RecoverOrphans failed: %v", err)
	}
	if len(result.Terminated) != 1 || result.Terminated[0] != 400 {
		t.Fatalf("expected worker 400 terminated, got %v", result.Terminated)
	}
	if result.Released != 1 {
		t.Fatalf("expected hung worker's claim released, got %d", result.Released)
	}
	if !prober.Alive(500) {
		t.Fatal("daemon row must never be terminated by the watchdog")
	}
	if exists, _ := reg.Exists(ctx, 500); !exists {
		t.Fatal("live daemon row removed")
	}
}

func TestEnqueueDeduplicatesWaitingJobs(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	first, err := e.q.Enqueue(ctx, "Notify", queue.PriorityLow, []any{"a@example.com", 3}, queue.EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	dup, err := e.q.Enqueue(ctx, "Notify", queue.PriorityHigh, []any{"a@example.com", 3}, queue.EnqueueOptions{})
	if err != nil {
		t.Fatalf("duplicate Enqueue failed: %v", err)
	}
	if dup.Created || dup.ID != first.ID || dup.PriorityChanged {
		t.Fatalf("unexpected duplicate result: %+v", dup)
	}
	forced, err := e.q.Enqueue(ctx, "Notify", queue.PriorityHigh, []any{"a@example.com", 3}, queue.EnqueueOptions{ForcePriority: true})
	if err != nil {
		t.Fatalf("forced Enqueue failed: %v", err)
	}
	if forced.Created || forced.ID != first.ID || !forced.PriorityChanged {
		t.Fatalf("unexpected forced result: %+v", forced)
	}
	job, err := e.q.Get(ctx, first.ID)
	if err != nil || job.Priority != queue.PriorityHigh {
		t.Fatalf("expected priority rewritten, got %+v (%v)", job, err)
	}

	other, err := e.q.Enqueue(ctx, "Notify", queue.PriorityLow, []any{"b@example.com", 3}, queue.EnqueueOptions{})
	if err != nil || !other.Created {
		t.Fatalf("expected distinct parameters to create a job: %+v (%v)", other, err)
	}

	if err := e.q.Claim(ctx, first.ID, 1); err != nil {
		t.Fatalf("Claim failed: %v", err)
	}
	again, err := e.q.Enqueue(ctx, "Notify", queue.PriorityLow, []any{"a@example.com", 3}, queue.EnqueueOptions{})
	if err != nil || !again.Created {
		t.Fatalf("expected new job while the original is claimed: %+v (%v)", again, err)
	}
}

func TestEnqueueRaisesWakeForUrgentPriorities(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.enqueue(t, "Background", queue.PriorityLow)
	if pending, _ := e.wake.Pending(ctx); pending {
		t.Fatal("low priority job must not raise the wake signal")
	}
	e.enqueue(t, "Urgent", queue.PriorityMedium)
	if pending, _ := e.wake.Pending(ctx); !pending {
		t.Fatal("medium priority job must raise the wake signal")
	}
}

func TestEnqueueValidatesInput(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	if _, err := e.q.Enqueue(ctx, "", queue.PriorityHigh, nil, queue.EnqueueOptions{}); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := e.q.Enqueue(ctx, "X", queue.Priority(9), nil, queue.EnqueueOptions{}); err == nil {
		t.Fatal("expected error for invalid priority")
	}
	if _, err := e.q.Enqueue(ctx, "X", queue.PriorityHigh, []any{make(chan int)}, queue.EnqueueOptions{}); err == nil {
		t.Fatal("expected error for unencodable parameters")
	}
}

func TestOperatorRequeueStatsAndPurge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	zero := 0

	res, err := e.q.Enqueue(ctx, "Broken", queue.PriorityHigh, nil, queue.EnqueueOptions{MaxRetries: &zero})
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	e.enqueue(t, "Waiting", queue.PriorityLow)
	if _, err := e.q.Enqueue(ctx, "Later", queue.PriorityLow, nil, queue.EnqueueOptions{NotBefore: e.clock.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	job, err := e.q.ClaimNext(ctx, 5)
	if err != nil || job == nil || job.ID != res.ID {
		t.Fatalf("ClaimNext = %+v, %v", job, err)
	}
	if _, err := e.q.Fail(ctx, job, 5, errors.New("nope")); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	stats, err := e.q.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Dead != 1 || stats.Due != 1 || stats.Deferred != 1 || stats.Claimed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.Waiting[queue.PriorityLow] != 2 || stats.Total() != 3 {
		t.Fatalf("unexpected waiting counts: %+v", stats.Waiting)
	}

	dead, err := e.q.DeadLetters(ctx)
	if err != nil || len(dead) != 1 {
		t.Fatalf("DeadLetters = %v, %v", dead, err)
	}
	requeued, err := e.q.Requeue(ctx, res.ID)
	if err != nil || requeued != 1 {
		t.Fatalf("Requeue = %d, %v", requeued, err)
	}
	job, err = e.q.Get(ctx, res.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if job.DeadLettered || job.RetryCount != 1 || job.MaxRetries != 1+3 {
		t.Fatalf("unexpected requeued job: %+v", job)
	}

	claimed, err := e.q.ClaimNext(ctx, 5)
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext after requeue = %+v, %v", claimed, err)
	}
	if _, err := e.q.Fail(ctx, claimed, 5, permanent{}); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	purged, err := e.q.PurgeDead(ctx)
	if err != nil || purged != 1 {
		t.Fatalf("PurgeDead = %d, %v", purged, err)
	}
	pending, err := e.q.List(ctx, queue.ListFilter{State: queue.StatePending})
	if err != nil || len(pending) != 1 || pending[0].Command != "Waiting" {
		t.Fatalf("unexpected pending list: %v (%v)", pending, err)
	}
	if _, err := e.q.List(ctx, queue.ListFilter{State: "bogus"}); err == nil {
		t.Fatal("expected error for unknown state")
	}
}
