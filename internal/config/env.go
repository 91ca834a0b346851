package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig    = "LOCALSYNC_CONFIG"
	EnvDB        = "LOCALSYNC_DB"
	EnvRemoteURL = "LOCALSYNC_REMOTE_URL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // LOCALSYNC_CONFIG: override config file path
	DBPath     string // LOCALSYNC_DB: state database path
	RemoteURL  string // LOCALSYNC_REMOTE_URL: remote base URL
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify the Config; Resolve applies the relevant fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DBPath:     os.Getenv(EnvDB),
		RemoteURL:  os.Getenv(EnvRemoteURL),
	}
}
