package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated TOML
// document to w. This powers "config show": the values after all four
// override layers have been applied.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	ew.printf("[queue]\n")
	ew.printf("db_path = %q\n", cfg.Queue.DBPath)
	ew.printf("busy_timeout = %q\n", cfg.Queue.BusyTimeout)
	ew.printf("first_temp_id = %d\n\n", cfg.Queue.FirstTempID)

	ew.printf("[remote]\n")
	ew.printf("base_url = %q\n", cfg.Remote.BaseURL)
	ew.printf("token_file = %q\n", cfg.Remote.TokenFile)
	ew.printf("client_id = %q\n", cfg.Remote.ClientID)
	ew.printf("token_url = %q\n", cfg.Remote.TokenURL)
	ew.printf("requests_per_second = %g\n", cfg.Remote.RequestsPerSecond)
	ew.printf("timeout = %q\n", cfg.Remote.Timeout)
	ew.printf("max_retries = %d\n\n", cfg.Remote.MaxRetries)

	ew.printf("[network]\n")
	ew.printf("probe_url = %q\n", cfg.Network.ProbeURL)
	ew.printf("probe_interval = %q\n", cfg.Network.ProbeInterval)
	ew.printf("socket_url = %q\n", cfg.Network.SocketURL)
	ew.printf("failure_threshold = %d\n", cfg.Network.FailureThreshold)
	ew.printf("failure_cooldown = %q\n", cfg.Network.FailureCooldown)
	ew.printf("start_online = %t\n\n", cfg.Network.StartOnline)

	ew.printf("[logging]\n")
	ew.printf("log_level = %q\n", cfg.Logging.LogLevel)
	ew.printf("log_file = %q\n", cfg.Logging.LogFile)
	ew.printf("log_format = %q\n", cfg.Logging.LogFormat)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
