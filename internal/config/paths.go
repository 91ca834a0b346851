package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "localsync"

// Files localsync keeps on disk. The config file lives in the config
// directory; the state database (queue, conflict log and entity mirror)
// and the OAuth2 token live in the data directory. The drain lock sits
// next to the database as <db>.lock.
const (
	configFileName = "config.toml"
	dbFileName     = "state.db"
	tokenFileName  = "token.json"
)

// DefaultConfigDir is where config.toml is looked up: $XDG_CONFIG_HOME or
// ~/.config on Linux and other Unixes, Application Support on macOS.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return appDir(runtime.GOOS, home, "XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir holds the state database and the token file:
// $XDG_DATA_HOME or ~/.local/share on Linux and other Unixes. macOS keeps
// both in the same Application Support directory as the config.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return appDir(runtime.GOOS, home, "XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// appDir resolves localsync's directory for one platform. xdgVar is only
// honored on Linux; elsewhere home-relative fallback is used.
func appDir(goos, home, xdgVar, fallback string) string {
	switch goos {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	case "linux":
		if xdg := os.Getenv(xdgVar); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}

	return filepath.Join(home, fallback, appName)
}

// DefaultConfigPath is the config file used when neither LOCALSYNC_CONFIG
// nor --config is given.
func DefaultConfigPath() string {
	return joinIfSet(DefaultConfigDir(), configFileName)
}

// DefaultDBPath is the state database used when [queue] db_path is unset.
func DefaultDBPath() string {
	return joinIfSet(DefaultDataDir(), dbFileName)
}

// DefaultTokenPath is the token file used when [remote] token_file is unset.
func DefaultTokenPath() string {
	return joinIfSet(DefaultDataDir(), tokenFileName)
}
