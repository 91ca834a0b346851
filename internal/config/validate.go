package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"time"
)

// Validation range constants.
const (
	minBusyTimeout      = 100 * time.Millisecond
	minRemoteTimeout    = 1 * time.Second
	minProbeInterval    = 1 * time.Second
	maxRetriesLimit     = 20
	maxFailureThreshold = 100
)

// Validate checks all configuration values and returns all errors found,
// so users can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateQueue(&cfg.Queue)...)
	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

// ValidateResolved runs Validate plus the checks that only make sense once
// environment and flag overrides have been applied.
func ValidateResolved(cfg *Config) error {
	errs := []error{Validate(cfg)}

	if cfg.Queue.DBPath == "" {
		errs = append(errs, errors.New("db_path: no state database path; set [queue] db_path or LOCALSYNC_DB"))
	} else if !filepath.IsAbs(cfg.Queue.DBPath) {
		errs = append(errs, fmt.Errorf("db_path: must be absolute after expansion, got %q", cfg.Queue.DBPath))
	}

	return errors.Join(errs...)
}

func validateQueue(q *QueueConfig) []error {
	var errs []error

	errs = append(errs, validateDurationMin("busy_timeout", q.BusyTimeout, minBusyTimeout)...)

	if q.FirstTempID >= 0 {
		errs = append(errs, fmt.Errorf("first_temp_id: must be negative, got %d", q.FirstTempID))
	}

	return errs
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	if r.BaseURL != "" {
		errs = append(errs, validateURL("base_url", r.BaseURL, "http", "https")...)
	}

	if r.TokenURL != "" {
		errs = append(errs, validateURL("token_url", r.TokenURL, "http", "https")...)

		if r.ClientID == "" {
			errs = append(errs, errors.New("client_id: required when token_url is set"))
		}
	}

	if r.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("requests_per_second: must be >= 0, got %g", r.RequestsPerSecond))
	}

	if r.MaxRetries < 0 || r.MaxRetries > maxRetriesLimit {
		errs = append(errs, fmt.Errorf("max_retries: must be between 0 and %d, got %d",
			maxRetriesLimit, r.MaxRetries))
	}

	errs = append(errs, validateDurationMin("timeout", r.Timeout, minRemoteTimeout)...)

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if n.ProbeURL != "" {
		errs = append(errs, validateURL("probe_url", n.ProbeURL, "http", "https")...)
	}

	if n.SocketURL != "" {
		errs = append(errs, validateURL("socket_url", n.SocketURL, "ws", "wss", "http", "https")...)
	}

	errs = append(errs, validateDurationMin("probe_interval", n.ProbeInterval, minProbeInterval)...)
	errs = append(errs, validateDurationNonNeg("failure_cooldown", n.FailureCooldown)...)

	if n.FailureThreshold < 0 || n.FailureThreshold > maxFailureThreshold {
		errs = append(errs, fmt.Errorf("failure_threshold: must be between 0 and %d, got %d",
			maxFailureThreshold, n.FailureThreshold))
	}

	return errs
}

func validateURL(field, value string, schemes ...string) []error {
	u, err := url.Parse(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid URL %q: %w", field, value, err)}
	}

	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}

	return []error{fmt.Errorf("%s: must be an absolute %v URL, got %q", field, schemes, value)}
}

// validateDuration checks that a duration string is valid and meets a minimum.
func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	return validateDurationMin(field, value, 0)
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}
