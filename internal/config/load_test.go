package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, Validate(cfg))
	assert.Equal(t, int64(-1000), cfg.Queue.FirstTempID)
	assert.Equal(t, 5*time.Second, cfg.Queue.BusyTimeoutDuration())
	assert.Equal(t, 30*time.Second, cfg.Remote.TimeoutDuration())
	assert.Equal(t, 30*time.Second, cfg.Network.ProbeIntervalDuration())
	assert.Equal(t, 5*time.Minute, cfg.Network.FailureCooldownDuration())
	assert.Equal(t, 3, cfg.Network.FailureThreshold)
	assert.False(t, cfg.Network.StartOnline)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
	assert.Equal(t, "state.db", filepath.Base(cfg.Queue.DBPath))
	assert.Equal(t, "token.json", filepath.Base(cfg.Remote.TokenFile))
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeTestConfig(t, `
[queue]
db_path = "/var/lib/localsync/state.db"
busy_timeout = "2s"
first_temp_id = -5000

[remote]
base_url = "https://api.example.com/v1"
token_file = "/var/lib/localsync/token.json"
client_id = "localsync-cli"
token_url = "https://auth.example.com/token"
requests_per_second = 2.5
timeout = "10s"
max_retries = 3

[network]
probe_url = "https://api.example.com/health"
probe_interval = "15s"
socket_url = "wss://api.example.com/live"
failure_threshold = 5
failure_cooldown = "1m"
start_online = true

[logging]
log_level = "debug"
log_file = "/var/log/localsync.log"
log_format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/localsync/state.db", cfg.Queue.DBPath)
	assert.Equal(t, 2*time.Second, cfg.Queue.BusyTimeoutDuration())
	assert.Equal(t, int64(-5000), cfg.Queue.FirstTempID)
	assert.Equal(t, "https://api.example.com/v1", cfg.Remote.BaseURL)
	assert.Equal(t, "localsync-cli", cfg.Remote.ClientID)
	assert.InDelta(t, 2.5, cfg.Remote.RequestsPerSecond, 0.001)
	assert.Equal(t, 3, cfg.Remote.MaxRetries)
	assert.Equal(t, "wss://api.example.com/live", cfg.Network.SocketURL)
	assert.Equal(t, 15*time.Second, cfg.Network.ProbeIntervalDuration())
	assert.Equal(t, 5, cfg.Network.FailureThreshold)
	assert.True(t, cfg.Network.StartOnline)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
}

func TestLoad_PartialConfigKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, "[remote]\nbase_url = \"http://localhost:8080\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.Remote.BaseURL)
	assert.Equal(t, defaultMaxRetries, cfg.Remote.MaxRetries)
	assert.Equal(t, defaultProbeInterval, cfg.Network.ProbeInterval)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, "[queue\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsAreJoined(t *testing.T) {
	path := writeTestConfig(t, `
[queue]
first_temp_id = 1

[logging]
log_level = "loud"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first_temp_id")
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoad_ExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	path := writeTestConfig(t, "[queue]\ndb_path = \"~/sync/state.db\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "sync", "state.db"), cfg.Queue.DBPath)
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestReadEnvOverrides(t *testing.T) {
	t.Setenv(EnvConfig, "/tmp/c.toml")
	t.Setenv(EnvDB, "/tmp/s.db")
	t.Setenv(EnvRemoteURL, "https://env.example.com")

	assert.Equal(t, EnvOverrides{
		ConfigPath: "/tmp/c.toml",
		DBPath:     "/tmp/s.db",
		RemoteURL:  "https://env.example.com",
	}, ReadEnvOverrides())
}

func TestResolve_OverrideChain(t *testing.T) {
	path := writeTestConfig(t, `
[queue]
db_path = "/from/file.db"

[remote]
base_url = "https://file.example.com"

[logging]
log_level = "warn"
`)

	t.Run("file only", func(t *testing.T) {
		cfg, got, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path})
		require.NoError(t, err)
		assert.Equal(t, path, got)
		assert.Equal(t, "/from/file.db", cfg.Queue.DBPath)
		assert.Equal(t, "https://file.example.com", cfg.Remote.BaseURL)
		assert.Equal(t, "warn", cfg.Logging.LogLevel)
	})

	t.Run("env beats file", func(t *testing.T) {
		cfg, _, err := Resolve(EnvOverrides{
			ConfigPath: path,
			DBPath:     "/from/env.db",
			RemoteURL:  "https://env.example.com",
		}, CLIOverrides{})
		require.NoError(t, err)
		assert.Equal(t, "/from/env.db", cfg.Queue.DBPath)
		assert.Equal(t, "https://env.example.com", cfg.Remote.BaseURL)
	})

	t.Run("flags beat env", func(t *testing.T) {
		db := "/from/flag.db"
		url := "https://flag.example.com"
		level := "debug"

		cfg, _, err := Resolve(
			EnvOverrides{ConfigPath: "/ignored.toml", DBPath: "/from/env.db"},
			CLIOverrides{ConfigPath: path, DBPath: &db, RemoteURL: &url, LogLevel: &level},
		)
		require.NoError(t, err)
		assert.Equal(t, db, cfg.Queue.DBPath)
		assert.Equal(t, url, cfg.Remote.BaseURL)
		assert.Equal(t, "debug", cfg.Logging.LogLevel)
	})

	t.Run("relative db path rejected", func(t *testing.T) {
		db := "relative.db"

		_, _, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path, DBPath: &db})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be absolute")
	})

	t.Run("invalid flag value rejected", func(t *testing.T) {
		level := "chatty"

		_, _, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: path, LogLevel: &level})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "log_level")
	})
}

func TestRenderEffective(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Remote.BaseURL = "https://api.example.com"

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(cfg, "/etc/localsync/config.toml", &buf))

	out := buf.String()
	assert.Contains(t, out, "# Effective configuration (file: /etc/localsync/config.toml)")
	assert.Contains(t, out, "[queue]")
	assert.Contains(t, out, `base_url = "https://api.example.com"`)
	assert.Contains(t, out, "first_temp_id = -1000")
	assert.Contains(t, out, "start_online = false")
}

type failWriter struct{}

func (failWriter) Write([]byte) (int, error) { return 0, os.ErrClosed }

func TestRenderEffective_WriteError(t *testing.T) {
	err := RenderEffective(DefaultConfig(), "x", failWriter{})
	assert.ErrorIs(t, err, os.ErrClosed)
}
