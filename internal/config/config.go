// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for localsync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// Every section is optional; missing keys keep their defaults.
type Config struct {
	Queue   QueueConfig   `toml:"queue"`
	Remote  RemoteConfig  `toml:"remote"`
	Network NetworkConfig `toml:"network"`
	Logging LoggingConfig `toml:"logging"`
}

// QueueConfig locates the state database that holds the action queue, the
// conflict log and the entity mirror.
type QueueConfig struct {
	DBPath      string `toml:"db_path"`
	BusyTimeout string `toml:"busy_timeout"`
	// FirstTempID is the first placeholder id handed out for optimistic
	// creations. Must be negative so it never collides with server ids.
	FirstTempID int64 `toml:"first_temp_id"`
}

// RemoteConfig describes the REST backend the drain loop replays against.
type RemoteConfig struct {
	BaseURL           string  `toml:"base_url"`
	TokenFile         string  `toml:"token_file"`
	ClientID          string  `toml:"client_id"`
	TokenURL          string  `toml:"token_url"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Timeout           string  `toml:"timeout"`
	MaxRetries        int     `toml:"max_retries"`
}

// NetworkConfig controls how connectivity is derived. An empty probe_url or
// socket_url disables that source.
type NetworkConfig struct {
	ProbeURL         string `toml:"probe_url"`
	ProbeInterval    string `toml:"probe_interval"`
	SocketURL        string `toml:"socket_url"`
	FailureThreshold int    `toml:"failure_threshold"`
	FailureCooldown  string `toml:"failure_cooldown"`
	StartOnline      bool   `toml:"start_online"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from command-line flags. Pointer fields
// distinguish "not specified" (nil) from an explicit zero value.
type CLIOverrides struct {
	ConfigPath string
	DBPath     *string
	RemoteURL  *string
	LogLevel   *string
}

// BusyTimeoutDuration returns the parsed busy_timeout. Values are checked by
// Validate, so a parse failure here falls back to zero.
func (q *QueueConfig) BusyTimeoutDuration() time.Duration {
	return mustDuration(q.BusyTimeout)
}

// TimeoutDuration returns the parsed per-request timeout.
func (r *RemoteConfig) TimeoutDuration() time.Duration {
	return mustDuration(r.Timeout)
}

// ProbeIntervalDuration returns the parsed probe interval.
func (n *NetworkConfig) ProbeIntervalDuration() time.Duration {
	return mustDuration(n.ProbeInterval)
}

// FailureCooldownDuration returns the parsed failure cooldown.
func (n *NetworkConfig) FailureCooldownDuration() time.Duration {
	return mustDuration(n.FailureCooldown)
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}

	return d
}
