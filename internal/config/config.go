package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains on-disk locations owned by the supervisor.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	PIDFile string `toml:"pidfile"`
}

// Worker contains dispatcher capacity and timing settings.
type Worker struct {
	// MaxWorkers bounds concurrently running worker processes.
	MaxWorkers int `toml:"max_workers"`
	// MaxLoad is the 1-minute load average above which no worker is spawned.
	// Zero disables load probing.
	MaxLoad float64 `toml:"max_load"`
	// LoadExponent shapes how fast the worker limit shrinks as load rises.
	LoadExponent int `toml:"load_exponent"`
	// CronInterval is the full sweep interval in minutes.
	CronInterval int `toml:"cron_interval"`
	// WakePriority is the least urgent priority that raises the wake signal.
	WakePriority string `toml:"wake_priority"`
	// Fork spawns worker processes; false executes jobs inside the supervisor.
	Fork bool `toml:"fork"`
	// Continuous keeps a spawned worker claiming jobs after its first one.
	Continuous bool `toml:"continuous"`
	// JobBudget caps jobs per continuous worker. Zero means unlimited.
	JobBudget int `toml:"job_budget"`
	// SpawnRate limits worker spawns per second.
	SpawnRate float64 `toml:"spawn_rate"`
	// SpawnBurst is the limiter burst size.
	SpawnBurst        int `toml:"spawn_burst"`
	HeartbeatInterval int `toml:"heartbeat_interval"`
	HeartbeatTimeout  int `toml:"heartbeat_timeout"`
	DefaultMaxRetries int `toml:"default_max_retries"`
}

// Retry contains the failed-job backoff policy.
type Retry struct {
	// Policy is "exponential" (full jitter) or "polynomial".
	Policy       string `toml:"policy"`
	InitialDelay int    `toml:"initial_delay"`
	MaxDelay     int    `toml:"max_delay"`
	// Demote lowers the priority of jobs that keep failing.
	Demote bool `toml:"demote"`
}

// Wake contains the wake signal backend settings.
type Wake struct {
	// Backend is "store" or "file".
	Backend string `toml:"backend"`
	File    string `toml:"file"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Handlers toggles built-in job handlers.
type Handlers struct {
	AllowExec bool `toml:"allow_exec"`
}

// Schedule describes a time-based job enqueued on cron sweeps.
type Schedule struct {
	Name       string   `toml:"name"`
	Spec       string   `toml:"spec"`
	Command    string   `toml:"command"`
	Priority   string   `toml:"priority"`
	Parameters []string `toml:"parameters"`
}

// Config encapsulates all configuration values for drover.
//
// Configuration sections by subsystem:
//   - Paths: database, log and pidfile locations
//   - Worker: capacity, backpressure, wake threshold and heartbeat timing
//   - Retry: failed job backoff policy
//   - Wake: wake signal backend
//   - Logging: log format, level, and retention
//   - Handlers: built-in handler switches
//   - Schedules: cron-driven jobs
type Config struct {
	Paths     Paths      `toml:"paths"`
	Worker    Worker     `toml:"worker"`
	Retry     Retry      `toml:"retry"`
	Wake      Wake       `toml:"wake"`
	Logging   Logging    `toml:"logging"`
	Handlers  Handlers   `toml:"handlers"`
	Schedules []Schedule `toml:"schedules"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/drover/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("drover.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogDir}
	if c.Paths.PIDFile != "" {
		dirs = append(dirs, filepath.Dir(c.Paths.PIDFile))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QueueDBPath returns the path of the shared SQLite database.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Paths.DataDir, "drover.db")
}

// LockPath returns the single-instance lock file guarding the pidfile.
func (c *Config) LockPath() string {
	if c.Paths.PIDFile == "" {
		return ""
	}
	return c.Paths.PIDFile + ".lock"
}

// WakeFilePath returns the flag file used by the file wake backend.
func (c *Config) WakeFilePath() string {
	if strings.TrimSpace(c.Wake.File) != "" {
		return c.Wake.File
	}
	return filepath.Join(c.Paths.DataDir, "wake.flag")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
