package netmon

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultPingInterval = 20 * time.Second
	minReconnectBackoff = time.Second
	maxReconnectBackoff = time.Minute
)

// SocketWatcher keeps a WebSocket open to the remote and treats the
// connection's health as the connectivity signal: online while dialed and
// answering pings, offline from the first dial or ping failure until a
// reconnect succeeds.
type SocketWatcher struct {
	URL          string
	Header       http.Header
	PingInterval time.Duration
	Logger       *slog.Logger

	// sleepFunc waits between reconnects. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// Name identifies the watcher in logs and monitor signals.
func (w *SocketWatcher) Name() string { return "socket " + w.URL }

// Run dials, holds and redials the socket until ctx is canceled.
func (w *SocketWatcher) Run(ctx context.Context, report func(online bool)) error {
	sleep := w.sleepFunc
	if sleep == nil {
		sleep = timeSleep
	}

	backoff := minReconnectBackoff

	for {
		conn, _, err := websocket.Dial(ctx, w.URL, &websocket.DialOptions{HTTPHeader: w.Header})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			report(false)
			w.logger().Debug("netmon: socket dial failed",
				slog.String("url", w.URL),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)

			if sleep(ctx, backoff) != nil {
				return nil
			}

			backoff = min(backoff*2, maxReconnectBackoff)

			continue
		}

		backoff = minReconnectBackoff

		report(true)

		err = w.hold(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}

		report(false)
		w.logger().Info("netmon: socket lost", slog.String("url", w.URL), slog.Any("error", err))
	}
}

// hold pings the connection until it fails or ctx is canceled.
func (w *SocketWatcher) hold(ctx context.Context, conn *websocket.Conn) error {
	defer conn.CloseNow()

	// CloseRead runs the reader that Ping needs to see pongs; its context
	// ends when the peer closes the connection.
	readCtx := conn.CloseRead(ctx)

	interval := w.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-readCtx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return readCtx.Err()
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := conn.Ping(pctx)
			cancel()

			if err != nil {
				return err
			}
		}
	}
}

func (w *SocketWatcher) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}

	return w.Logger
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
