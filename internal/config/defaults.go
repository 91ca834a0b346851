package config

import "path/filepath"

// Default values for configuration options. These are "layer 0" of the
// override chain and work without any config file.
const (
	defaultBusyTimeout       = "5s"
	defaultFirstTempID       = -1000
	defaultRequestsPerSecond = 10
	defaultRemoteTimeout     = "30s"
	defaultMaxRetries        = 5
	defaultProbeInterval     = "30s"
	defaultFailureThreshold  = 3
	defaultFailureCooldown   = "5m"
	defaultLogLevel          = "info"
	defaultLogFormat         = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Queue: QueueConfig{
			DBPath:      DefaultDBPath(),
			BusyTimeout: defaultBusyTimeout,
			FirstTempID: defaultFirstTempID,
		},
		Remote: RemoteConfig{
			TokenFile:         DefaultTokenPath(),
			RequestsPerSecond: defaultRequestsPerSecond,
			Timeout:           defaultRemoteTimeout,
			MaxRetries:        defaultMaxRetries,
		},
		Network: NetworkConfig{
			ProbeInterval:    defaultProbeInterval,
			FailureThreshold: defaultFailureThreshold,
			FailureCooldown:  defaultFailureCooldown,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}

func joinIfSet(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}
