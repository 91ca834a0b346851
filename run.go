package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/localsync/internal/config"
	"github.com/tonimelisma/localsync/internal/engine"
	"github.com/tonimelisma/localsync/internal/netmon"
	"github.com/tonimelisma/localsync/internal/store"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync daemon",
		Long: `Hold the drain lock for the state database and replay queued actions
whenever the remote is reachable.

Connectivity comes from [network] probe_url and socket_url. SIGHUP (sent
by other localsync commands after they queue work) reloads the config and
drains immediately. Edits to the config file are picked up as well.`,
		RunE: runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	cfg := cc.Cfg
	logger := cc.Logger

	release, err := writePIDFile(lockPath(cfg.Queue.DBPath))
	if err != nil {
		if errors.Is(err, errLocked) {
			if pid := runningPID(lockPath(cfg.Queue.DBPath)); pid != 0 {
				return fmt.Errorf("daemon already running (PID %d)", pid)
			}
		}

		return err
	}
	defer release()

	ctx := shutdownContext(cmd.Context(), logger)

	sess, err := openSession(ctx, cfg, cfg.Network.StartOnline, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := sess.Engine.Start(ctx); err != nil {
		return err
	}

	logger.Info("daemon: started",
		slog.String("db", cfg.Queue.DBPath),
		slog.String("remote", cfg.Remote.BaseURL),
		slog.Bool("online", sess.Monitor.Online()),
	)

	stopLog := logChanges(sess, logger)
	defer stopLog()

	holder := config.NewHolder(cfg, cc.CfgPath)

	sources := connectivitySources(sess, cfg, logger)
	if len(sources) == 0 && !sess.Monitor.Online() {
		logger.Warn("daemon: no connectivity source and start_online is false; nothing will sync")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sess.Monitor.Run(gctx, sources...)
	})

	g.Go(func() error {
		return hangupLoop(gctx, cc, holder, sess)
	})

	g.Go(func() error {
		return watchConfig(gctx, cc, holder)
	})

	err = g.Wait()

	logger.Info("daemon: stopping")

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// connectivitySources builds the monitor's signal sources from config.
// Without any the monitor keeps its initial state.
func connectivitySources(sess *Session, cfg *config.Config, logger *slog.Logger) []netmon.Source {
	var sources []netmon.Source

	if cfg.Network.ProbeURL != "" {
		sources = append(sources, &netmon.HTTPProber{
			URL:      cfg.Network.ProbeURL,
			Interval: cfg.Network.ProbeIntervalDuration(),
			Logger:   logger,
		})
	}

	if cfg.Network.SocketURL != "" {
		sources = append(sources, &netmon.SocketWatcher{
			URL:    cfg.Network.SocketURL,
			Header: authHeader(sess, logger),
			Logger: logger,
		})
	}

	return sources
}

// authHeader carries the current access token to the socket handshake.
func authHeader(sess *Session, logger *slog.Logger) http.Header {
	if sess.Tokens == nil {
		return nil
	}

	tok, err := sess.Tokens.Token()
	if err != nil {
		logger.Warn("daemon: no token for socket", slog.String("error", err.Error()))
		return nil
	}

	h := make(http.Header)
	h.Set("Authorization", tok.Type()+" "+tok.AccessToken)

	return h
}

// hangupLoop handles SIGHUP: reload config, pick up records and actions
// other processes wrote to the shared database, then drain.
func hangupLoop(ctx context.Context, cc *CLIContext, holder *config.Holder, sess *Session) error {
	hup := hangupChannel(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
		}

		cc.Logger.Info("daemon: SIGHUP received")
		reloadConfig(cc, holder)

		if err := sess.Store.Load(ctx); err != nil {
			cc.Logger.Warn("daemon: reloading store", slog.String("error", err.Error()))
		}

		if err := sess.Engine.Load(ctx); err != nil {
			cc.Logger.Warn("daemon: reloading queue", slog.String("error", err.Error()))
		}

		sess.Engine.SyncNow()
	}
}

// watchConfig reloads the config when its file is written. The directory is
// watched so editors that replace the file by rename are seen too.
func watchConfig(ctx context.Context, cc *CLIContext, holder *config.Holder) error {
	path := holder.Path()
	if path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating config watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		// A missing config directory just means nothing to watch.
		cc.Logger.Debug("daemon: not watching config", slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}

			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				reloadConfig(cc, holder)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}

			cc.Logger.Warn("daemon: config watcher error", slog.String("error", err.Error()))
		}
	}
}

// reloadConfig re-resolves the config. The log level applies at once;
// settings bound at startup need a restart, which is logged. An invalid
// file keeps the previous config.
func reloadConfig(cc *CLIContext, holder *config.Holder) {
	next, pinned, err := holder.Reload(config.ReadEnvOverrides(), cc.overrides)
	if err != nil {
		cc.Logger.Warn("daemon: config reload failed, keeping previous", slog.String("error", err.Error()))
		return
	}

	for _, key := range pinned {
		cc.Logger.Warn("daemon: setting changes on restart", slog.String("key", key))
	}

	cc.Level.Set(logLevel(next.Logging.LogLevel, cc.Flags))

	cc.Logger.Info("daemon: config reloaded", slog.String("log_level", cc.Level.Level().String()))
}

// logChanges traces store and engine notifications at debug level.
func logChanges(sess *Session, logger *slog.Logger) func() {
	stopStore := sess.Store.Subscribe("", func(c store.Change) {
		logger.Debug("daemon: record changed",
			slog.String("entity", c.Entity),
			slog.Int64("id", c.ID),
			slog.Bool("deleted", c.Deleted),
		)
	})

	stopEngine := sess.Engine.Subscribe(func(s engine.Snapshot) {
		logger.Debug("daemon: queue state",
			slog.String("status", string(s.Status)),
			slog.Bool("online", s.Online),
			slog.Int("pending", s.Pending),
			slog.Int("failed", s.Failed),
			slog.Int("conflicts", s.Conflicts),
		)
	})

	return func() {
		stopStore()
		stopEngine()
	}
}
