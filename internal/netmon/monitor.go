// Package netmon decides whether the remote authority is reachable. It
// folds signals from connectivity sources (an HTTP health probe, a
// WebSocket liveness channel) and from handler outcomes into a single
// online/offline state and notifies subscribers on every transition.
package netmon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Source is a connectivity signal. Run reports observations until ctx is
// canceled and then returns nil.
type Source interface {
	Name() string
	Run(ctx context.Context, report func(online bool)) error
}

// Config configures a Monitor.
type Config struct {
	// Initial is the state before any source has reported.
	Initial bool

	// FailureThreshold consecutive unreachable reports flip the monitor
	// offline until a source next reports online. Zero disables this.
	FailureThreshold int

	// FailureCooldown forgets failures older than this. Zero selects
	// five minutes.
	FailureCooldown time.Duration

	Logger *slog.Logger
}

// Monitor is the online/offline state machine. Online when every source
// that has reported says online and repeated handler failures have not
// suppressed it. Safe for concurrent use.
type Monitor struct {
	logger  *slog.Logger
	tracker *failureTracker

	mu         sync.Mutex
	initial    bool
	signals    map[string]bool
	suppressed bool
	online     bool
	subs       map[int]func(bool)
	nextSub    int
}

// New creates a Monitor.
func New(cfg Config) *Monitor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		logger:  logger,
		tracker: newFailureTracker(cfg.FailureThreshold, cfg.FailureCooldown, logger),
		initial: cfg.Initial,
		online:  cfg.Initial,
		signals: make(map[string]bool),
		subs:    make(map[int]func(bool)),
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.online
}

// Subscribe registers fn to be called with the new state on every
// transition. fn runs on the reporting goroutine.
func (m *Monitor) Subscribe(fn func(online bool)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Set records a signal from the named source. A positive signal also lifts
// any failure suppression.
func (m *Monitor) Set(source string, online bool) {
	m.update(func() {
		m.signals[source] = online

		if online {
			m.suppressed = false
			m.tracker.recordSuccess()
		}
	})
}

// ReportUnreachable records a transport failure seen by a handler.
func (m *Monitor) ReportUnreachable(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	m.update(func() {
		if m.tracker.recordFailure(msg) {
			m.suppressed = true
		}
	})
}

// ReportReachable records a successful remote call.
func (m *Monitor) ReportReachable() {
	m.tracker.recordSuccess()
}

// Run drives every source until ctx is canceled or one of them fails.
func (m *Monitor) Run(ctx context.Context, sources ...Source) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, src := range sources {
		name := src.Name()

		g.Go(func() error {
			m.logger.Debug("netmon: source started", slog.String("source", name))

			if err := src.Run(gctx, func(online bool) { m.Set(name, online) }); err != nil {
				return fmt.Errorf("netmon: source %s: %w", name, err)
			}

			return nil
		})
	}

	return g.Wait()
}

// update applies fn under the lock and notifies subscribers outside it if
// the derived state changed.
func (m *Monitor) update(fn func()) {
	m.mu.Lock()
	fn()

	next := m.derive()
	changed := next != m.online
	m.online = next

	var fns []func(bool)
	if changed {
		fns = make([]func(bool), 0, len(m.subs))
		for _, f := range m.subs {
			fns = append(fns, f)
		}
	}
	m.mu.Unlock()

	if !changed {
		return
	}

	m.logger.Info("netmon: connectivity changed", slog.Bool("online", next))

	for _, f := range fns {
		f(next)
	}
}

func (m *Monitor) derive() bool {
	if m.suppressed {
		return false
	}

	if len(m.signals) == 0 {
		return m.initial
	}

	for _, on := range m.signals {
		if !on {
			return false
		}
	}

	return true
}
