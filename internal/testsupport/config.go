package testsupport

import (
	"path/filepath"
	"testing"

	"drover/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.PIDFile = filepath.Join(base, "run", "drover.pid")
	cfgVal.Worker.MaxLoad = 0
	cfgVal.Worker.SpawnRate = 0
	cfgVal.Logging.RetentionDays = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return builder.cfg
}

// WithMaxWorkers overrides the concurrency ceiling.
func WithMaxWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.MaxWorkers = n
	}
}

// WithWakeBackend selects the wake signal backend.
func WithWakeBackend(backend string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Wake.Backend = backend
	}
}

// WithCronInterval sets the sweep interval in minutes.
func WithCronInterval(minutes int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.CronInterval = minutes
	}
}

// WithoutPIDFile clears the pidfile path.
func WithoutPIDFile() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Paths.PIDFile = ""
	}
}

// WithSchedule appends a time-based job.
func WithSchedule(s config.Schedule) ConfigOption {
	return func(b *configBuilder) {
		if s.Priority == "" {
			s.Priority = "medium"
		}
		if s.Name == "" {
			s.Name = s.Command
		}
		b.cfg.Schedules = append(b.cfg.Schedules, s)
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}

// WithWorker applies arbitrary worker settings.
func WithWorker(mutate func(*config.Worker)) ConfigOption {
	return func(b *configBuilder) {
		mutate(&b.cfg.Worker)
	}
}
