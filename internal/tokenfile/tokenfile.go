// Package tokenfile persists the OAuth2 credentials used to talk to the
// remote authority, together with a small metadata map (the account's user
// id, display name) cached at login.
package tokenfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// MetaUserID is the metadata key holding the signed-in user's id.
const MetaUserID = "user_id"

// File is the on-disk format.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// Load reads a token file. Returns (nil, nil, nil) if the file does not
// exist.
func Load(path string) (*oauth2.Token, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, nil, fmt.Errorf("tokenfile: %s missing token field", path)
	}

	return tf.Token, tf.Meta, nil
}

// Save writes a token file atomically with owner-only permissions. Token
// values are never logged.
func Save(path string, tok *oauth2.Token, meta map[string]string) error {
	data, err := json.MarshalIndent(File{Token: tok, Meta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	return writeAtomic(path, data)
}

// writeAtomic writes to a temp file in the target directory, syncs it and
// renames it into place, so a crash never leaves a partial file.
func writeAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	defer func() {
		if err != nil {
			tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err = tmp.Chmod(FilePerms); err != nil {
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	return nil
}

// Source is an oauth2.TokenSource that writes every newly issued token
// back to its file, so a refresh survives a restart.
type Source struct {
	path   string
	meta   map[string]string
	src    oauth2.TokenSource
	logger *slog.Logger

	mu   sync.Mutex
	last string // access token most recently persisted
}

// Open loads the token file at path and returns a refreshing source for
// it. With a nil conf the stored token is used as is until it expires.
// Returns (nil, nil, nil) when no token file exists.
func Open(ctx context.Context, path string, conf *oauth2.Config, logger *slog.Logger) (*Source, map[string]string, error) {
	tok, meta, err := Load(path)
	if err != nil || tok == nil {
		return nil, nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	var src oauth2.TokenSource
	if conf != nil {
		src = conf.TokenSource(ctx, tok)
	} else {
		src = oauth2.StaticTokenSource(tok)
	}

	return &Source{
		path:   path,
		meta:   meta,
		src:    oauth2.ReuseTokenSource(tok, src),
		logger: logger,
		last:   tok.AccessToken,
	}, meta, nil
}

// Token returns a valid token, refreshing and persisting it when needed.
func (s *Source) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err != nil {
		s.logger.Warn("tokenfile: token acquisition failed", slog.String("error", err.Error()))
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tok.AccessToken == s.last {
		return tok, nil
	}

	if err := Save(s.path, tok, s.meta); err != nil {
		// The refreshed token is still usable for this process.
		s.logger.Warn("tokenfile: persisting refreshed token failed",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)

		return tok, nil
	}

	s.last = tok.AccessToken
	s.logger.Info("tokenfile: persisted refreshed token",
		slog.String("path", s.path),
		slog.Time("expiry", tok.Expiry),
	)

	return tok, nil
}
