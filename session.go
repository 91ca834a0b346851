package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/oauth2"

	"github.com/tonimelisma/localsync/internal/config"
	"github.com/tonimelisma/localsync/internal/engine"
	"github.com/tonimelisma/localsync/internal/netmon"
	"github.com/tonimelisma/localsync/internal/queue"
	"github.com/tonimelisma/localsync/internal/remote"
	"github.com/tonimelisma/localsync/internal/state"
	"github.com/tonimelisma/localsync/internal/store"
	"github.com/tonimelisma/localsync/internal/tasks"
	"github.com/tonimelisma/localsync/internal/tokenfile"
)

// cliSource is the monitor signal a one-shot command reports under.
const cliSource = "cli"

// Session holds the wired engine stack for one state database.
type Session struct {
	DB      *sql.DB
	Queue   *queue.Queue
	Store   *store.Memory
	Monitor *netmon.Monitor
	Engine  *engine.Engine
	Tokens  oauth2.TokenSource // nil when no token file exists
	UserID  string             // signed-in user from token metadata

	cfg    *config.Config
	logger *slog.Logger

	// release is set while this process holds the drain lock.
	release func()
}

// openSession opens the state database, loads the store and builds the
// engine. The monitor starts from start; the caller decides whether the
// engine is Started (daemon) or only Loaded (one-shot commands).
func openSession(ctx context.Context, cfg *config.Config, start bool, logger *slog.Logger) (*Session, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Queue.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := state.OpenWithTimeout(cfg.Queue.DBPath, cfg.Queue.BusyTimeoutDuration(), logger)
	if err != nil {
		return nil, err
	}

	s := &Session{DB: db, cfg: cfg, logger: logger}

	if err := s.build(ctx, start); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Session) build(ctx context.Context, start bool) error {
	cfg := s.cfg

	s.Queue = queue.New(s.DB, s.logger)
	s.Store = store.NewMemory(store.NewMirror(s.DB), s.logger)

	if err := s.Store.Load(ctx); err != nil {
		return err
	}

	tokens, meta, err := tokenfile.Open(ctx, cfg.Remote.TokenFile, oauthConfig(&cfg.Remote), s.logger)
	if err != nil {
		return err
	}

	// A nil *tokenfile.Source must not become a non-nil interface.
	if tokens != nil {
		s.Tokens = tokens
		s.UserID = meta[tokenfile.MetaUserID]
	}

	client := remote.NewClient(cfg.Remote.BaseURL, remote.Options{
		HTTPClient:        &http.Client{Timeout: cfg.Remote.TimeoutDuration()},
		Tokens:            s.Tokens,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
		MaxRetries:        maxRetriesOption(cfg.Remote.MaxRetries),
		Logger:            s.logger,
	})

	reg, err := tasks.Registry(tasks.NewAPI(client))
	if err != nil {
		return err
	}

	s.Monitor = netmon.New(netmon.Config{
		Initial:          start,
		FailureThreshold: cfg.Network.FailureThreshold,
		FailureCooldown:  cfg.Network.FailureCooldownDuration(),
		Logger:           s.logger,
	})

	s.Engine, err = engine.New(engine.Config{
		Queue:       s.Queue,
		Registry:    reg,
		Store:       s.Store,
		Network:     s.Monitor,
		Logger:      s.logger,
		FirstTempID: cfg.Queue.FirstTempID,
	})

	return err
}

// oauthConfig returns the refresh configuration, or nil when the config
// names no token endpoint.
func oauthConfig(rc *config.RemoteConfig) *oauth2.Config {
	if rc.TokenURL == "" {
		return nil
	}

	return &oauth2.Config{
		ClientID: rc.ClientID,
		Endpoint: oauth2.Endpoint{TokenURL: rc.TokenURL},
	}
}

// maxRetriesOption maps the config's "0 means none" to the client's
// "negative means none".
func maxRetriesOption(n int) int {
	if n == 0 {
		return -1
	}

	return n
}

// claimDrain takes the drain lock for this database. It reports false when
// a daemon already holds it; that daemon is then the one to drain.
func (s *Session) claimDrain() (bool, error) {
	release, err := writePIDFile(lockPath(s.cfg.Queue.DBPath))
	if errors.Is(err, errLocked) {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	s.release = release

	// Other commands poke the lock holder with SIGHUP. This process will
	// drain everything queued before it exits, so the poke needs no action.
	signal.Ignore(syscall.SIGHUP)

	return true, nil
}

// goOnline prepares a one-shot command to drain: it recovers actions left
// processing by a crashed run, loads the mirrors and marks the monitor
// online when the remote answers. Requires the drain lock. Without a
// configured remote the session stays offline.
func (s *Session) goOnline(ctx context.Context) (bool, error) {
	if _, err := s.Queue.ResetProcessing(ctx); err != nil {
		return false, err
	}

	if err := s.Engine.Load(ctx); err != nil {
		return false, err
	}

	if s.cfg.Remote.BaseURL == "" {
		s.logger.Debug("session: no remote configured, staying offline")
		return false, nil
	}

	online := true

	if url := s.cfg.Network.ProbeURL; url != "" {
		prober := &netmon.HTTPProber{URL: url, Logger: s.logger}
		online = prober.Check(ctx)
	}

	s.Monitor.Set(cliSource, online)

	return online, nil
}

// Close waits for background drains and releases everything.
func (s *Session) Close() {
	s.Engine.Close()

	if s.release != nil {
		s.release()
	}

	s.DB.Close()
}

// prepare opens a session for a command that mutates the queue. With the
// drain lock the session is online and drains in this process; without it
// the running daemon is signaled once the command is done.
func prepare(ctx context.Context, cc *CLIContext) (*Session, bool, error) {
	sess, err := openSession(ctx, cc.Cfg, false, cc.Logger)
	if err != nil {
		return nil, false, err
	}

	owned, err := sess.claimDrain()
	if err != nil {
		sess.Close()
		return nil, false, err
	}

	if !owned {
		if err := sess.Engine.Load(ctx); err != nil {
			sess.Close()
			return nil, false, err
		}

		return sess, false, nil
	}

	online, err := sess.goOnline(ctx)
	if err != nil {
		sess.Close()
		return nil, false, err
	}

	switch {
	case online:
	case cc.Cfg.Remote.BaseURL == "":
		cc.Statusf("No remote configured; changes stay queued.\n")
	default:
		cc.Statusf("Remote unreachable; changes stay queued until the next sync.\n")
	}

	return sess, true, nil
}

// finish waits for this process's drains or hands the work to the daemon.
func finish(cc *CLIContext, sess *Session, owned bool) {
	if owned {
		sess.Engine.Wait()
		return
	}

	notifyDaemon(cc, sess.cfg.Queue.DBPath)
}

// openReadOnly opens a session for inspection commands. The engine is only
// loaded, so a running daemon is never disturbed.
func openReadOnly(ctx context.Context, cc *CLIContext) (*Session, error) {
	sess, err := openSession(ctx, cc.Cfg, false, cc.Logger)
	if err != nil {
		return nil, err
	}

	if err := sess.Engine.Load(ctx); err != nil {
		sess.Close()
		return nil, err
	}

	return sess, nil
}
