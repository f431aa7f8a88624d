package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"drover/internal/config"
	"drover/internal/dispatch"
	"drover/internal/jobs"
	"drover/internal/logging"
	"drover/internal/procutil"
	"drover/internal/queue"
	"drover/internal/registry"
	"drover/internal/schedule"
	"drover/internal/storage"
	"drover/internal/wake"
)

type commandContext struct {
	configFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, exists, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// spawner re-executes this binary with the same configuration file.
func (c *commandContext) spawner() procutil.ExecSpawner {
	var s procutil.ExecSpawner
	if c.configExists && c.configPath != "" {
		s.BaseArgs = []string{"--config", c.configPath}
	}
	return s
}

// runtime is the wired object graph shared by worker, daemon and queue
// commands.
type runtime struct {
	cfg        *config.Config
	db         *storage.DB
	logger     *slog.Logger
	session    string
	wake       wake.Signal
	queue      *queue.Queue
	registry   *registry.Registry
	handlers   *jobs.Registry
	schedules  *schedule.Scheduler
	dispatcher *dispatch.Dispatcher
}

type runtimeOptions struct {
	// rotateLogs archives the previous log file before the logger opens it.
	rotateLogs bool
}

func (c *commandContext) openRuntime(opts runtimeOptions) (*runtime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if opts.rotateLogs {
		if _, err := logging.RotateLog(cfg.Paths.LogDir, time.Now()); err != nil {
			fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
		}
	}
	session := registry.NewSessionID()
	logger, err := logging.NewFromConfig(cfg, session)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := storage.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue database: %w", err)
	}
	rt := &runtime{cfg: cfg, db: db, logger: logger, session: session}
	if err := rt.wire(c.spawner()); err != nil {
		db.Close()
		return nil, err
	}
	return rt, nil
}

func (r *runtime) wire(spawner procutil.ExecSpawner) error {
	sig, err := wake.New(r.cfg, r.db, r.logger)
	if err != nil {
		return err
	}
	q, err := queue.NewFromConfig(r.cfg, r.db, sig, r.logger)
	if err != nil {
		return err
	}
	handlers, err := jobs.NewDefaultRegistry(r.cfg)
	if err != nil {
		return err
	}
	schedules, err := schedule.New(q, r.cfg.Schedules, schedule.Options{Logger: r.logger})
	if err != nil {
		return err
	}
	reg := registry.New(r.db)

	r.wake = sig
	r.queue = q
	r.registry = reg
	r.handlers = handlers
	r.schedules = schedules
	r.dispatcher = dispatch.New(r.cfg, q, reg, handlers, dispatch.Options{
		SessionID: r.session,
		Spawner:   spawner,
		Schedules: schedules,
		Wake:      sig,
		Logger:    r.logger,
	})
	return nil
}

func (r *runtime) Close() {
	if r == nil || r.db == nil {
		return
	}
	if err := r.db.Close(); err != nil {
		r.logger.Debug("database close failed", logging.Error(err))
	}
}

func (c *commandContext) withRuntime(fn func(*runtime) error) error {
	rt, err := c.openRuntime(runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
