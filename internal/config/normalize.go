package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorker()
	c.normalizeRetry()
	if err := c.normalizeWake(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeSchedules()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(strings.TrimSpace(c.Paths.DataDir)); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = c.Paths.DataDir
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if value, ok := os.LookupEnv("DROVER_PIDFILE"); ok && strings.TrimSpace(value) != "" {
		c.Paths.PIDFile = value
	}
	if c.Paths.PIDFile, err = expandPath(strings.TrimSpace(c.Paths.PIDFile)); err != nil {
		return fmt.Errorf("paths.pidfile: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorker() {
	c.Worker.WakePriority = strings.ToLower(strings.TrimSpace(c.Worker.WakePriority))
	if c.Worker.WakePriority == "" {
		c.Worker.WakePriority = defaultWakePriority
	}
	if c.Worker.LoadExponent <= 0 {
		c.Worker.LoadExponent = defaultLoadExponent
	}
	if c.Worker.SpawnBurst <= 0 {
		c.Worker.SpawnBurst = defaultSpawnBurst
	}
	if c.Worker.DefaultMaxRetries < 0 {
		c.Worker.DefaultMaxRetries = 0
	}
}

func (c *Config) normalizeRetry() {
	c.Retry.Policy = strings.ToLower(strings.TrimSpace(c.Retry.Policy))
	if c.Retry.Policy == "" {
		c.Retry.Policy = defaultRetryPolicy
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = defaultRetryInitialDelay
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = defaultRetryMaxDelay
	}
}

func (c *Config) normalizeWake() error {
	c.Wake.Backend = strings.ToLower(strings.TrimSpace(c.Wake.Backend))
	if c.Wake.Backend == "" {
		c.Wake.Backend = defaultWakeBackend
	}
	if strings.TrimSpace(c.Wake.File) == "" {
		return nil
	}
	var err error
	if c.Wake.File, err = expandPath(strings.TrimSpace(c.Wake.File)); err != nil {
		return fmt.Errorf("wake.file: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeSchedules() {
	for i := range c.Schedules {
		s := &c.Schedules[i]
		s.Name = strings.TrimSpace(s.Name)
		s.Spec = strings.TrimSpace(s.Spec)
		s.Command = strings.TrimSpace(s.Command)
		s.Priority = strings.ToLower(strings.TrimSpace(s.Priority))
		if s.Priority == "" {
			s.Priority = defaultWakePriority
		}
		if s.Name == "" {
			s.Name = s.Command
		}
	}
}
