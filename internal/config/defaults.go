package config

const (
	defaultStateDir            = "~/.local/share/handforge"
	defaultLogDir              = "~/.local/share/handforge/logs"
	defaultMaxParallel         = 2
	defaultThreadsPerJob       = 1
	defaultOnExists            = "overwrite"
	defaultFormat              = "mp3"
	defaultMode                = "cbr"
	defaultBitrate             = 192
	defaultTargetLUFS          = -14.0
	defaultEWMAAlpha           = 0.3
	defaultRetryMaxAttempts    = 3
	defaultStopGraceSeconds    = 10
	defaultDispatchPollSeconds = 1
	defaultWatchSettleSeconds  = 2
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

func defaultRetryPatterns() []string {
	return []string{
		"Error while decoding",
		"Invalid data found",
		"could not find codec parameters",
	}
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Conversion: Conversion{
			MaxParallel:    defaultMaxParallel,
			CodecCaps:      map[string]int{},
			ThreadsPerJob:  defaultThreadsPerJob,
			OnExists:       defaultOnExists,
			DefaultFormat:  defaultFormat,
			DefaultMode:    defaultMode,
			DefaultBitrate: defaultBitrate,
			TargetLUFS:     defaultTargetLUFS,
		},
		Progress: Progress{
			EWMAAlpha: defaultEWMAAlpha,
		},
		Retry: Retry{
			AutoEnabled: true,
			Patterns:    defaultRetryPatterns(),
			MaxAttempts: defaultRetryMaxAttempts,
		},
		Workflow: Workflow{
			StopGraceSeconds:    defaultStopGraceSeconds,
			DispatchPollSeconds: defaultDispatchPollSeconds,
		},
		Watch: Watch{
			SettleSeconds: defaultWatchSettleSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
