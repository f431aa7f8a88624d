package testsupport

import (
	"context"
	"errors"
	"sync"
	"syscall"

	"drover/internal/procutil"
)

// Prober is a liveness probe whose answers tests control.
type Prober struct {
	mu         sync.Mutex
	alive      map[int]bool
	terminated []int
	onAlive    func(pid int)
}

// NewProber returns a probe reporting the given pids as alive.
func NewProber(alive ...int) *Prober {
	p := &Prober{alive: make(map[int]bool)}
	for _, pid := range alive {
		p.alive[pid] = true
	}
	return p
}

// Alive reports whether pid was marked alive. A hook set with OnAlive runs
// first, outside the lock.
func (p *Prober) Alive(pid int) bool {
	p.mu.Lock()
	hook := p.onAlive
	p.mu.Unlock()
	if hook != nil {
		hook(pid)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.alive[pid]
}

// OnAlive installs fn to run on every Alive call.
func (p *Prober) OnAlive(fn func(pid int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAlive = fn
}

// SetAlive marks pid alive or dead.
func (p *Prober) SetAlive(pid int, alive bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alive[pid] = alive
}

// Terminate records the request and marks pid dead.
func (p *Prober) Terminate(pid int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive[pid] {
		return syscall.ESRCH
	}
	p.alive[pid] = false
	p.terminated = append(p.terminated, pid)
	return nil
}

// Terminated lists pids passed to Terminate while alive.
func (p *Prober) Terminated() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.terminated...)
}

// Spawner records spawn requests and hands out controllable handles.
type Spawner struct {
	mu       sync.Mutex
	nextPID  int
	fail     bool
	detached [][]string
	workers  []*Handle
}

// NewSpawner returns a spawner whose children get pids from firstPID up.
func NewSpawner(firstPID int) *Spawner {
	return &Spawner{nextPID: firstPID}
}

// FailNext makes spawns fail until called again with false.
func (s *Spawner) FailNext(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *Spawner) SpawnDetached(_ context.Context, args []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("spawn refused")
	}
	s.detached = append(s.detached, append([]string(nil), args...))
	pid := s.nextPID
	s.nextPID++
	return pid, nil
}

func (s *Spawner) SpawnWorker(_ context.Context, args []string) (procutil.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("spawn refused")
	}
	h := &Handle{pid: s.nextPID, args: append([]string(nil), args...), done: make(chan struct{})}
	s.nextPID++
	s.workers = append(s.workers, h)
	return h, nil
}

// Workers returns the handles spawned so far.
func (s *Spawner) Workers() []*Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Handle(nil), s.workers...)
}

// Detached returns the argument lists passed to SpawnDetached.
func (s *Spawner) Detached() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.detached...)
}

// Handle is a fake worker process that exits when told to.
type Handle struct {
	pid  int
	args []string
	done chan struct{}
	once sync.Once
	err  error
}

func (h *Handle) PID() int { return h.pid }

func (h *Handle) Args() []string { return h.args }

func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Err() error { return h.err }

// Exit marks the process as reaped with err.
func (h *Handle) Exit(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}
