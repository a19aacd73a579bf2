package scanner

import (
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	minBackoff = 500 * time.Millisecond
	maxBackoff = 30 * time.Second
)

// Throttler adapts the per-request delay of a run. 429 and 503 responses
// and bursts of connection errors double the delay up to maxBackoff;
// healthy responses halve it back toward the base delay. A nil Throttler
// imposes no delay.
type Throttler struct {
	mu           sync.Mutex
	baseDelay    time.Duration
	currentDelay time.Duration
	consecutive  int
	adaptive     bool
	logger       *slog.Logger
}

// NewThrottler creates a throttler with a fixed base delay; adaptive
// enables back-off.
func NewThrottler(baseDelay time.Duration, adaptive bool, logger *slog.Logger) *Throttler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Throttler{
		baseDelay:    baseDelay,
		currentDelay: baseDelay,
		adaptive:     adaptive,
		logger:       logger,
	}
}

// Delay returns the delay to wait before the next request.
func (t *Throttler) Delay() time.Duration {
	if t == nil {
		return 0
	}
	if !t.adaptive {
		return t.baseDelay
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentDelay
}

// RecordStatus feeds a response status into the back-off state.
func (t *Throttler) RecordStatus(status int) {
	if t == nil || !t.adaptive {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		t.consecutive++
		if t.backoff() {
			t.logger.Warn("rate limited, backing off", "status", status, "delay", t.currentDelay)
		}
		return
	}
	if t.consecutive == 0 {
		return
	}
	t.consecutive = 0
	next := max(t.currentDelay/2, t.baseDelay)
	if next != t.currentDelay {
		t.currentDelay = next
		if next > t.baseDelay {
			t.logger.Info("recovering from back-off", "delay", next)
		}
	}
}

// RecordError counts a connection failure; three in a row back off.
func (t *Throttler) RecordError() {
	if t == nil || !t.adaptive {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consecutive++
	if t.consecutive >= 3 && t.backoff() {
		t.logger.Warn("repeated connection errors, backing off", "delay", t.currentDelay)
	}
}

// backoff doubles the delay within bounds; the caller holds t.mu.
func (t *Throttler) backoff() bool {
	next := min(max(t.currentDelay*2, minBackoff), maxBackoff)
	if next == t.currentDelay {
		return false
	}
	t.currentDelay = next
	return true
}
