package config

const (
	defaultDataDir           = "~/.local/share/drover"
	defaultLogDir            = "~/.local/share/drover/logs"
	defaultPIDFile           = "~/.local/share/drover/drover.pid"
	defaultMaxWorkers        = 10
	defaultMaxLoad           = 20
	defaultLoadExponent      = 3
	defaultCronInterval      = 5
	defaultWakePriority      = "medium"
	defaultSpawnRate         = 5
	defaultSpawnBurst        = 10
	defaultHeartbeatInterval = 15
	defaultHeartbeatTimeout  = 600
	defaultMaxRetries        = 15
	defaultRetryPolicy       = "exponential"
	defaultRetryInitialDelay = 60
	defaultRetryMaxDelay     = 6 * 3600
	defaultWakeBackend       = "store"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultLogRetentionDays  = 30
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			PIDFile: defaultPIDFile,
		},
		Worker: Worker{
			MaxWorkers:        defaultMaxWorkers,
			MaxLoad:           defaultMaxLoad,
			LoadExponent:      defaultLoadExponent,
			CronInterval:      defaultCronInterval,
			WakePriority:      defaultWakePriority,
			Fork:              true,
			SpawnRate:         defaultSpawnRate,
			SpawnBurst:        defaultSpawnBurst,
			HeartbeatInterval: defaultHeartbeatInterval,
			HeartbeatTimeout:  defaultHeartbeatTimeout,
			DefaultMaxRetries: defaultMaxRetries,
		},
		Retry: Retry{
			Policy:       defaultRetryPolicy,
			InitialDelay: defaultRetryInitialDelay,
			MaxDelay:     defaultRetryMaxDelay,
			Demote:       true,
		},
		Wake: Wake{
			Backend: defaultWakeBackend,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
