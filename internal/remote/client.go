package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/tonimelisma/localsync/internal/engine"
)

// Retry and backoff constants.
const (
	defaultMaxRetries = 5
	baseBackoff       = 1 * time.Second
	maxBackoff        = 60 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	userAgent         = "localsync/0.1"

	// burstMultiplier sizes the limiter's bucket relative to its rate.
	burstMultiplier = 2
)

// Options configures a Client. The zero value is usable.
type Options struct {
	HTTPClient *http.Client

	// Tokens supplies OAuth2 bearer tokens. Nil sends no Authorization
	// header.
	Tokens oauth2.TokenSource

	// RequestsPerSecond paces outgoing requests. Zero is unlimited.
	RequestsPerSecond float64

	// MaxRetries bounds retries of transient failures. Zero selects the
	// default; negative disables retries.
	MaxRetries int

	Logger *slog.Logger
}

// Client is an HTTP client for the remote authority's JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	limiter    *rate.Limiter
	maxRetries int
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	maxRetries := opts.MaxRetries

	switch {
	case maxRetries == 0:
		maxRetries = defaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := max(1, int(opts.RequestsPerSecond)*burstMultiplier)
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     opts.Tokens,
		limiter:    limiter,
		maxRetries: maxRetries,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Do sends in (JSON-encoded, may be nil) to path and decodes the response
// into out (may be nil). Numbers decode as json.Number.
//
// Failures are classified for the sync engine: 409 and 412 become an
// *engine.ConflictError carrying the server's record; transport errors
// and gateway failures that outlast the retries wrap engine.ErrUnreachable;
// everything else is an *Error.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body []byte

	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("remote: encoding %s %s: %w", method, path, err)
		}

		body = b
	}

	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()

	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("remote: decoding %s %s: %w", method, path, err)
	}

	return nil
}

// send executes a request with retry. On success the caller closes the
// response body.
func (c *Client) send(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := c.baseURL + path

	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, url, body)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("remote: request canceled: %w", ctx.Err())
			}

			var retrieveErr *oauth2.RetrieveError
			if errors.As(err, &retrieveErr) {
				return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
			}

			// Network errors are retryable.
			if attempt < c.maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("remote: retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("remote: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, engine.Unreachable(
				fmt.Errorf("remote: %s %s failed after %d retries: %w", method, path, c.maxRetries, err))
		}

		// 2xx: success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("remote: request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < c.maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("remote: retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("remote: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("remote: request failed after retries",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, classifyResponse(resp, errBody)
	}
}

// classifyResponse turns a final non-2xx response into an error.
func classifyResponse(resp *http.Response, body []byte) error {
	remoteErr := &Error{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-Id"),
		Message:    string(body),
		Err:        classifyStatus(resp.StatusCode),
	}

	switch {
	case errors.Is(remoteErr, ErrConflict):
		return &engine.ConflictError{ServerData: serverData(body), Err: remoteErr}
	case isGatewayFailure(resp.StatusCode):
		return engine.Unreachable(remoteErr)
	default:
		return remoteErr
	}
}

// serverData extracts the authoritative record from a conflict body. The
// API answers {"serverData": {...}}; a bare record is accepted too.
func serverData(body []byte) engine.Record {
	var envelope struct {
		ServerData engine.Record `json:"serverData"`
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if err := dec.Decode(&envelope); err == nil && envelope.ServerData != nil {
		return envelope.ServerData
	}

	var rec engine.Record

	dec = json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	if err := dec.Decode(&rec); err != nil {
		return nil
	}

	return rec
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if c.tokens != nil {
		tok, tokErr := c.tokens.Token()
		if tokErr != nil {
			return nil, fmt.Errorf("obtaining token: %w", tokErr)
		}

		tok.SetAuthHeader(req)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
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
