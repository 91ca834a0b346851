package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"busy timeout unparsable", func(c *Config) { c.Queue.BusyTimeout = "soon" }, "busy_timeout: invalid duration"},
		{"busy timeout too short", func(c *Config) { c.Queue.BusyTimeout = "1ms" }, "busy_timeout: must be >="},
		{"positive temp id", func(c *Config) { c.Queue.FirstTempID = 0 }, "first_temp_id: must be negative"},
		{"base url without scheme", func(c *Config) { c.Remote.BaseURL = "api.example.com" }, "base_url: must be an absolute"},
		{"token url without client", func(c *Config) { c.Remote.TokenURL = "https://auth.example.com/token" }, "client_id: required"},
		{"negative rate", func(c *Config) { c.Remote.RequestsPerSecond = -1 }, "requests_per_second"},
		{"too many retries", func(c *Config) { c.Remote.MaxRetries = 99 }, "max_retries"},
		{"short timeout", func(c *Config) { c.Remote.Timeout = "10ms" }, "timeout: must be >="},
		{"probe url scheme", func(c *Config) { c.Network.ProbeURL = "ftp://x.example.com" }, "probe_url"},
		{"socket url scheme", func(c *Config) { c.Network.SocketURL = "tcp://x.example.com" }, "socket_url"},
		{"probe interval", func(c *Config) { c.Network.ProbeInterval = "0s" }, "probe_interval"},
		{"negative cooldown", func(c *Config) { c.Network.FailureCooldown = "-1s" }, "failure_cooldown"},
		{"negative threshold", func(c *Config) { c.Network.FailureThreshold = -1 }, "failure_threshold"},
		{"log level", func(c *Config) { c.Logging.LogLevel = "trace" }, "log_level"},
		{"log format", func(c *Config) { c.Logging.LogFormat = "xml" }, "log_format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_AcceptsWebSocketAndHTTPSocketURLs(t *testing.T) {
	for _, u := range []string{"ws://h/live", "wss://h/live", "https://h/live"} {
		cfg := DefaultConfig()
		cfg.Network.SocketURL = u
		assert.NoError(t, Validate(cfg), u)
	}
}

func TestValidateResolved_RequiresDBPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Queue.DBPath = ""

	err := ValidateResolved(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db_path")
}
