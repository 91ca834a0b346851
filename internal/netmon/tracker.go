package netmon

import (
	"log/slog"
	"sync"
	"time"
)

const defaultFailureCooldown = 5 * time.Minute

// failureTracker counts consecutive unreachable reports. Failures older
// than the cooldown are forgotten; a success clears the count.
type failureTracker struct {
	threshold int
	cooldown  time.Duration
	logger    *slog.Logger
	nowFunc   func() time.Time // injectable for testing

	mu      sync.Mutex
	count   int
	lastErr string
	lastAt  time.Time
}

func newFailureTracker(threshold int, cooldown time.Duration, logger *slog.Logger) *failureTracker {
	if cooldown <= 0 {
		cooldown = defaultFailureCooldown
	}

	return &failureTracker{
		threshold: threshold,
		cooldown:  cooldown,
		logger:    logger,
		nowFunc:   time.Now,
	}
}

// recordFailure counts a failure and reports whether the threshold has
// been reached.
func (ft *failureTracker) recordFailure(errMsg string) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if ft.threshold <= 0 {
		return false
	}

	now := ft.nowFunc()

	// Reset if the previous failure is older than the cooldown.
	if ft.count > 0 && now.Sub(ft.lastAt) > ft.cooldown {
		ft.count = 0
	}

	ft.count++
	ft.lastErr = errMsg
	ft.lastAt = now

	if ft.count == ft.threshold {
		ft.logger.Warn("netmon: remote marked unreachable after repeated failures",
			slog.Int("failures", ft.count),
			slog.String("last_error", errMsg),
		)
	}

	return ft.count >= ft.threshold
}

func (ft *failureTracker) recordSuccess() {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	ft.count = 0
	ft.lastErr = ""
}
