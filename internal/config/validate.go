package config

import (
	"errors"
	"fmt"
	"strings"
)

// PriorityNames lists accepted priority names, most urgent first.
var PriorityNames = []string{"critical", "high", "medium", "low", "negligible"}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorker(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateWake(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateSchedules(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.MaxWorkers <= 0 {
		return errors.New("worker.max_workers must be positive")
	}
	if c.Worker.MaxLoad < 0 {
		return errors.New("worker.max_load must not be negative")
	}
	if c.Worker.CronInterval <= 0 {
		return errors.New("worker.cron_interval must be positive")
	}
	if !validPriority(c.Worker.WakePriority) {
		return fmt.Errorf("worker.wake_priority: unknown priority %q (expected one of %s)", c.Worker.WakePriority, strings.Join(PriorityNames, ", "))
	}
	if c.Worker.SpawnRate < 0 {
		return errors.New("worker.spawn_rate must not be negative")
	}
	if c.Worker.JobBudget < 0 {
		return errors.New("worker.job_budget must not be negative")
	}
	if c.Worker.HeartbeatTimeout > 0 && c.Worker.HeartbeatInterval <= 0 {
		return errors.New("worker.heartbeat_interval must be positive when heartbeat_timeout is set")
	}
	if c.Worker.HeartbeatTimeout > 0 && c.Worker.HeartbeatTimeout <= c.Worker.HeartbeatInterval {
		return errors.New("worker.heartbeat_timeout must exceed worker.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateRetry() error {
	switch c.Retry.Policy {
	case "exponential", "polynomial":
	default:
		return fmt.Errorf("retry.policy: unsupported value %q (expected exponential or polynomial)", c.Retry.Policy)
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return errors.New("retry.max_delay must be at least retry.initial_delay")
	}
	return nil
}

func (c *Config) validateWake() error {
	switch c.Wake.Backend {
	case "store", "file":
		return nil
	default:
		return fmt.Errorf("wake.backend: unsupported value %q (expected store or file)", c.Wake.Backend)
	}
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateSchedules() error {
	seen := make(map[string]struct{}, len(c.Schedules))
	for i, s := range c.Schedules {
		if s.Command == "" {
			return fmt.Errorf("schedules[%d].command must be set", i)
		}
		if s.Spec == "" {
			return fmt.Errorf("schedules[%d].spec must be set", i)
		}
		if !validPriority(s.Priority) {
			return fmt.Errorf("schedules[%d].priority: unknown priority %q", i, s.Priority)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("schedules[%d].name %q is not unique", i, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// ValidateStartup checks settings that only the daemon requires.
func (c *Config) ValidateStartup() error {
	if strings.TrimSpace(c.Paths.PIDFile) == "" {
		return errors.New("paths.pidfile must be set to run the daemon")
	}
	return nil
}

func validPriority(name string) bool {
	for _, candidate := range PriorityNames {
		if candidate == name {
			return true
		}
	}
	return false
}
