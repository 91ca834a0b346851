package netmon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// transitions records every state a Monitor announces.
type transitions struct {
	mu  sync.Mutex
	got []bool
}

func (tr *transitions) record(online bool) {
	tr.mu.Lock()
	tr.got = append(tr.got, online)
	tr.mu.Unlock()
}

func (tr *transitions) list() []bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	return append([]bool(nil), tr.got...)
}

func TestMonitor_TransitionsNotifyOnce(t *testing.T) {
	t.Parallel()

	m := New(Config{Logger: testLogger()})
	assert.False(t, m.Online())

	var tr transitions
	cancel := m.Subscribe(tr.record)

	m.Set("probe", true)
	m.Set("probe", true)
	m.Set("probe", false)
	m.Set("probe", true)

	assert.Equal(t, []bool{true, false, true}, tr.list())

	cancel()
	m.Set("probe", false)
	assert.Len(t, tr.list(), 3)
	assert.False(t, m.Online())
}

func TestMonitor_AllSourcesMustAgree(t *testing.T) {
	t.Parallel()

	m := New(Config{Initial: true, Logger: testLogger()})
	assert.True(t, m.Online())

	m.Set("probe", true)
	m.Set("socket", false)
	assert.False(t, m.Online())

	m.Set("socket", true)
	assert.True(t, m.Online())
}

func TestMonitor_FailuresSuppressUntilPositiveSignal(t *testing.T) {
	t.Parallel()

	m := New(Config{Initial: true, FailureThreshold: 3, Logger: testLogger()})

	var tr transitions
	m.Subscribe(tr.record)

	boom := errors.New("dial tcp: connection refused")

	m.ReportUnreachable(boom)
	m.ReportUnreachable(boom)
	assert.True(t, m.Online())

	m.ReportUnreachable(boom)
	assert.False(t, m.Online())

	m.Set("probe", true)
	assert.True(t, m.Online())
	assert.Equal(t, []bool{false, true}, tr.list())
}

func TestMonitor_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	m := New(Config{Initial: true, FailureThreshold: 2, Logger: testLogger()})
	boom := errors.New("timeout")

	m.ReportUnreachable(boom)
	m.ReportReachable()
	m.ReportUnreachable(boom)
	assert.True(t, m.Online())

	m.ReportUnreachable(boom)
	assert.False(t, m.Online())
}

func TestMonitor_ZeroThresholdNeverSuppresses(t *testing.T) {
	t.Parallel()

	m := New(Config{Initial: true, Logger: testLogger()})
	for range 10 {
		m.ReportUnreachable(errors.New("x"))
	}

	assert.True(t, m.Online())
}

func TestFailureTracker_CooldownResetsCount(t *testing.T) {
	t.Parallel()

	ft := newFailureTracker(2, time.Minute, testLogger())

	now := time.Now()
	ft.nowFunc = func() time.Time { return now }

	assert.False(t, ft.recordFailure("timeout"))

	// The next failure lands after the cooldown and starts a new run.
	ft.nowFunc = func() time.Time { return now.Add(time.Minute + time.Second) }
	assert.False(t, ft.recordFailure("timeout"))
	assert.True(t, ft.recordFailure("timeout"))
}

// scriptedSource reports a fixed sequence and then waits for cancellation.
type scriptedSource struct {
	name   string
	script []bool
}

func (s *scriptedSource) Name() string { return s.name }

func (s *scriptedSource) Run(ctx context.Context, report func(bool)) error {
	for _, on := range s.script {
		report(on)
	}

	<-ctx.Done()

	return nil
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }

func (failingSource) Run(context.Context, func(bool)) error { return errors.New("bad url") }

func TestMonitor_Run(t *testing.T) {
	t.Parallel()

	m := New(Config{Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- m.Run(ctx, &scriptedSource{name: "a", script: []bool{false, true}})
	}()

	require.Eventually(t, m.Online, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestMonitor_RunPropagatesSourceError(t *testing.T) {
	t.Parallel()

	m := New(Config{Logger: testLogger()})

	err := m.Run(context.Background(), &scriptedSource{name: "a"}, failingSource{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestHTTPProber(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		status = http.StatusOK
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		defer mu.Unlock()

		w.WriteHeader(status)
	}))
	defer srv.Close()

	p := &HTTPProber{URL: srv.URL, Logger: testLogger()}
	ctx := context.Background()

	assert.True(t, p.Check(ctx))

	mu.Lock()
	status = http.StatusUnauthorized
	mu.Unlock()
	assert.True(t, p.Check(ctx), "4xx still proves reachability")

	mu.Lock()
	status = http.StatusServiceUnavailable
	mu.Unlock()
	assert.False(t, p.Check(ctx))

	srv.Close()
	assert.False(t, p.Check(ctx))
}

func TestHTTPProber_RunReportsUntilCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := New(Config{Logger: testLogger()})
	p := &HTTPProber{URL: srv.URL, Interval: 10 * time.Millisecond, Logger: testLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- m.Run(ctx, p) }()

	require.Eventually(t, m.Online, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSocketWatcher_ReconnectsAfterLoss(t *testing.T) {
	t.Parallel()

	drop := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		readCtx := c.CloseRead(r.Context())

		select {
		case <-drop:
			c.Close(websocket.StatusGoingAway, "restarting")
		case <-readCtx.Done():
		}
	}))
	defer srv.Close()

	w := &SocketWatcher{
		URL:          "ws" + srv.URL[len("http"):],
		PingInterval: 20 * time.Millisecond,
		Logger:       testLogger(),
		sleepFunc:    func(context.Context, time.Duration) error { return nil },
	}

	reports := make(chan bool, 16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- w.Run(ctx, func(on bool) { reports <- on }) }()

	assert.True(t, <-reports)

	drop <- struct{}{}
	assert.False(t, <-reports)
	assert.True(t, <-reports)

	cancel()
	require.NoError(t, <-done)
}

func TestSocketWatcher_DialFailureReportsOffline(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + srv.URL[len("http"):]
	srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &SocketWatcher{
		URL:    url,
		Logger: testLogger(),
		sleepFunc: func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		},
	}

	var got []bool
	require.NoError(t, w.Run(ctx, func(on bool) { got = append(got, on) }))
	assert.Equal(t, []bool{false}, got)
}
