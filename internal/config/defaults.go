package config

const (
	defaultStateDir          = "~/.local/share/vellum"
	defaultLogDir            = "~/.local/share/vellum/logs"
	defaultLogFormat         = "console"
	defaultLogLevel          = "info"
	defaultFlushInterval     = 5
	defaultFlushRetryBudget  = 12
	defaultBatchThreshold    = 5000
	defaultContextCapacity   = 64
	defaultContextTTL        = 900
	defaultWorkers           = 4
	defaultErrorRetrySeconds = 5
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		TermCache: TermCache{
			FlushIntervalSeconds: defaultFlushInterval,
			FlushRetryBudget:     defaultFlushRetryBudget,
		},
		BulkLoad: BulkLoad{
			BatchThreshold: defaultBatchThreshold,
		},
		Derived: Derived{
			ContextCapacity:   defaultContextCapacity,
			ContextTTLSeconds: defaultContextTTL,
		},
		Pipeline: Pipeline{
			Workers:            defaultWorkers,
			ErrorRetryInterval: defaultErrorRetrySeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
