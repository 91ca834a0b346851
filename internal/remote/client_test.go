package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/localsync/internal/engine"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// newTestClient creates a Client pointing at the given httptest server
// with a static bearer token and instant retry sleeps.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c := NewClient(url, Options{
		Tokens: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}),
		Logger: slog.Default(),
	})
	c.sleepFunc = noopSleep

	return c
}

func TestDo_SuccessDecodesJSON(t *testing.T) {
	var gotAuth, gotType string

	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":57,"title":"Buy milk"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	var out engine.Record
	require.NoError(t, c.Do(context.Background(), http.MethodPost, "/tasks", map[string]any{"title": "Buy milk"}, &out))

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "Buy milk", gotBody["title"])
	assert.Equal(t, json.Number("57"), out["id"])
}

func TestDo_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var out engine.Record
	require.NoError(t, newTestClient(t, srv.URL).Do(context.Background(), http.MethodDelete, "/tasks/1", nil, &out))
	assert.Nil(t, out)
}

func TestDo_RetriesResendBody(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if string(b) != `{"title":"x"}` {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	var out engine.Record
	require.NoError(t, newTestClient(t, srv.URL).Do(context.Background(), http.MethodPatch, "/tasks/1", map[string]any{"title": "x"}, &out))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_ConflictCarriesServerData(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"envelope", http.StatusConflict, `{"error":"stale","serverData":{"id":5,"title":"theirs","updatedAt":"v2"}}`},
		{"bare record", http.StatusPreconditionFailed, `{"id":5,"title":"theirs","updatedAt":"v2"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("X-Request-Id", "req-1")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodPatch, "/tasks/5", map[string]any{}, nil)
			require.ErrorIs(t, err, engine.ErrConflict)
			require.ErrorIs(t, err, ErrConflict)

			var ce *engine.ConflictError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "theirs", ce.ServerData["title"])
			assert.Equal(t, json.Number("5"), ce.ServerData["id"])

			var re *Error
			require.ErrorAs(t, err, &re)
			assert.Equal(t, "req-1", re.RequestID)
		})
	}
}

func TestDo_RejectionIsNotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"title required"}`))
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodPost, "/tasks", map[string]any{}, nil)
	require.ErrorIs(t, err, ErrInvalid)
	assert.NotErrorIs(t, err, engine.ErrUnreachable)
	assert.NotErrorIs(t, err, engine.ErrConflict)
	assert.Contains(t, err.Error(), "title required")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDo_GatewayFailureIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/tasks", nil, nil)
	require.ErrorIs(t, err, engine.ErrUnreachable)
	require.ErrorIs(t, err, ErrServerError)
}

func TestDo_InternalErrorIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := newTestClient(t, srv.URL).Do(context.Background(), http.MethodGet, "/tasks", nil, nil)
	require.ErrorIs(t, err, ErrServerError)
	assert.NotErrorIs(t, err, engine.ErrUnreachable)
}

func TestDo_NetworkErrorIsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := newTestClient(t, url).Do(context.Background(), http.MethodGet, "/tasks", nil, nil)
	require.ErrorIs(t, err, engine.ErrUnreachable)
	assert.Contains(t, err.Error(), "failed after 5 retries")
}

func TestDo_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	c.sleepFunc = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	err := c.Do(ctx, http.MethodGet, "/tasks", nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}

type failingTokens struct{}

func (failingTokens) Token() (*oauth2.Token, error) {
	return nil, &oauth2.RetrieveError{ErrorCode: "invalid_grant"}
}

func TestDo_TokenRejectionIsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, Options{Tokens: failingTokens{}})
	c.sleepFunc = noopSleep

	err := c.Do(context.Background(), http.MethodGet, "/tasks", nil, nil)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.NotErrorIs(t, err, engine.ErrUnreachable)
}

func TestRetryBackoff_HonorsRetryAfter(t *testing.T) {
	c := NewClient("http://example.invalid", Options{})

	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"7"}}}
	assert.Equal(t, 7*time.Second, c.retryBackoff(resp, 0))

	resp.Header.Set("Retry-After", "soon")
	got := c.retryBackoff(resp, 0)
	assert.InDelta(t, float64(baseBackoff), float64(got), float64(baseBackoff)*jitterFraction)
}

func TestCalcBackoff_Capped(t *testing.T) {
	c := NewClient("http://example.invalid", Options{})

	got := c.calcBackoff(20)
	assert.LessOrEqual(t, got, time.Duration(float64(maxBackoff)*(1+jitterFraction)))
}

func TestNewClient_Limiter(t *testing.T) {
	assert.Nil(t, NewClient("", Options{}).limiter)

	c := NewClient("", Options{RequestsPerSecond: 0.5})
	require.NotNil(t, c.limiter)
	assert.Equal(t, 1, c.limiter.Burst())

	assert.Equal(t, 0, NewClient("", Options{MaxRetries: -1}).maxRetries)
}

func TestError_Format(t *testing.T) {
	err := &Error{StatusCode: 404, Message: "no such task", Err: ErrNotFound}
	assert.Equal(t, "remote: HTTP 404: no such task", err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))
}
