package config

import "sync"

// Holder is the daemon's live configuration. Readers take snapshots with
// Config; Reload swaps in a freshly resolved config while pinning the
// settings a running daemon cannot change.
type Holder struct {
	mu   sync.RWMutex
	cfg  *Config
	path string // immutable after construction
}

// NewHolder creates a Holder with the initial config and config file path.
func NewHolder(cfg *Config, path string) *Holder {
	return &Holder{
		cfg:  cfg,
		path: path,
	}
}

// Config returns the current config snapshot. Snapshots are never mutated.
func (h *Holder) Config() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.cfg
}

// Path returns the config file path.
func (h *Holder) Path() string {
	return h.path
}

// Update replaces the config.
func (h *Holder) Update(cfg *Config) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.cfg = cfg
}

// Reload resolves the config again through the full override chain and
// installs it. Settings bound at startup (the database, the remote and the
// connectivity sources) keep their running values; the keys whose file
// value differs are returned so the caller can say a restart is needed.
// On error the current config stays in place.
func (h *Holder) Reload(env EnvOverrides, cli CLIOverrides) (*Config, []string, error) {
	next, _, err := Resolve(env, cli)
	if err != nil {
		return nil, nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.cfg

	var pinned []string

	pin := func(key, running string, loaded *string) {
		if *loaded != running {
			pinned = append(pinned, key)
			*loaded = running
		}
	}

	pin("queue.db_path", prev.Queue.DBPath, &next.Queue.DBPath)
	pin("remote.base_url", prev.Remote.BaseURL, &next.Remote.BaseURL)
	pin("remote.token_file", prev.Remote.TokenFile, &next.Remote.TokenFile)
	pin("network.probe_url", prev.Network.ProbeURL, &next.Network.ProbeURL)
	pin("network.socket_url", prev.Network.SocketURL, &next.Network.SocketURL)

	h.cfg = next

	return next, pinned, nil
}
