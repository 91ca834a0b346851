package netmon

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 10 * time.Second
)

// HTTPProber polls a health endpoint. Any HTTP answer below 500 counts as
// reachable: an auth or routing error still proves the network path works.
type HTTPProber struct {
	URL      string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
	Logger   *slog.Logger
}

// Name identifies the prober in logs and monitor signals.
func (p *HTTPProber) Name() string { return "probe " + p.URL }

// Run probes immediately and then every Interval.
func (p *HTTPProber) Run(ctx context.Context, report func(online bool)) error {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report(p.Check(ctx))

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Check performs a single probe.
func (p *HTTPProber) Check(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, http.NoBody)
	if err != nil {
		p.logger().Error("netmon: building probe request", slog.String("error", err.Error()))
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		p.logger().Debug("netmon: probe failed", slog.String("url", p.URL), slog.String("error", err.Error()))
		return false
	}

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}

func (p *HTTPProber) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}

	return p.Logger
}
