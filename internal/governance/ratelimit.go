package governance

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// SessionLimiterConfig defines the sliding window applied to each session.
type SessionLimiterConfig struct {
	MaxRequests int
	Window      time.Duration
}

// DefaultSessionLimiterConfig returns the limits applied when none are configured.
func DefaultSessionLimiterConfig() SessionLimiterConfig {
	return SessionLimiterConfig{
		MaxRequests: 20,
		Window:      60 * time.Second,
	}
}

// SessionLimiter implements sliding-window rate limiting per session.
//
// Each session owns a log of admission timestamps. A request is admitted
// when, after discarding timestamps older than the window, fewer than
// MaxRequests remain. Rejected requests are not recorded, so probing a
// full window never extends the lockout.
type SessionLimiter struct {
	mu      sync.RWMutex
	windows map[string]*slidingWindow
	config  SessionLimiterConfig
	now     func() time.Time
}

// NewSessionLimiter creates a limiter with the provided configuration.
// Zero or negative fields fall back to the defaults.
func NewSessionLimiter(config SessionLimiterConfig) *SessionLimiter {
	sl := &SessionLimiter{
		windows: make(map[string]*slidingWindow),
		now:     time.Now,
	}
	sl.Configure(config)
	return sl
}

// Configure updates the limiter with new limits. Existing session windows
// are preserved; their recorded timestamps are re-evaluated against the
// new limits on the next call.
func (sl *SessionLimiter) Configure(config SessionLimiterConfig) {
	if config.MaxRequests <= 0 {
		config.MaxRequests = DefaultSessionLimiterConfig().MaxRequests
	}
	if config.Window <= 0 {
		config.Window = DefaultSessionLimiterConfig().Window
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	sl.config = config
}

// Allow reports whether a request for the given session should be admitted,
// recording the admission timestamp when it is.
func (sl *SessionLimiter) Allow(sessionID string) bool {
	cfg, win := sl.window(sessionID)
	return win.admit(sl.now(), cfg)
}

// AllowContext checks admission with context cancellation support.
func (sl *SessionLimiter) AllowContext(ctx context.Context, sessionID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return sl.Allow(sessionID), nil
}

// Remaining returns how many further requests the session may make right
// now without being rejected. It does not record an admission.
func (sl *SessionLimiter) Remaining(sessionID string) int {
	cfg, win := sl.window(sessionID)
	return win.remaining(sl.now(), cfg)
}

// RetryAfter returns how long the session must wait until its oldest
// recorded request leaves the window. It returns zero when the session
// could be admitted immediately.
func (sl *SessionLimiter) RetryAfter(sessionID string) time.Duration {
	cfg, win := sl.window(sessionID)
	return win.retryAfter(sl.now(), cfg)
}

// Reset discards the recorded window for a session, typically when its
// history is cleared.
func (sl *SessionLimiter) Reset(sessionID string) {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	delete(sl.windows, sessionID)
}

// Stats returns current window statistics for all tracked sessions.
func (sl *SessionLimiter) Stats() map[string]WindowStats {
	sl.mu.RLock()
	defer sl.mu.RUnlock()

	stats := make(map[string]WindowStats, len(sl.windows))
	for sessionID, win := range sl.windows {
		stats[sessionID] = win.stats(sl.now(), sl.config)
	}
	return stats
}

// Limit returns the configured maximum requests per window.
func (sl *SessionLimiter) Limit() int {
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.config.MaxRequests
}

// window returns the session's window, creating it if needed, along with
// the configuration in force at the time of the call.
func (sl *SessionLimiter) window(sessionID string) (SessionLimiterConfig, *slidingWindow) {
	sl.mu.RLock()
	cfg := sl.config
	win, exists := sl.windows[sessionID]
	sl.mu.RUnlock()
	if exists {
		return cfg, win
	}

	sl.mu.Lock()
	defer sl.mu.Unlock()
	// Re-check: another goroutine may have inserted the window between
	// the read unlock and the write lock.
	if win, exists = sl.windows[sessionID]; !exists {
		win = &slidingWindow{}
		sl.windows[sessionID] = win
	}
	return sl.config, win
}

// WindowStats exposes the current state of one session's window.
type WindowStats struct {
	Limit     int    `json:"limit"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
	ResetAt   string `json:"resetAt,omitempty"`
}

// slidingWindow holds the admission timestamps for a single session.
type slidingWindow struct {
	mu     sync.Mutex
	stamps []time.Time
}

// admit prunes expired timestamps and records the request iff the window
// still has capacity. Prune, check, and append happen under one lock so
// concurrent callers can never over-admit.
func (w *slidingWindow) admit(now time.Time, cfg SessionLimiterConfig) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, cfg.Window)
	if len(w.stamps) >= cfg.MaxRequests {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

func (w *slidingWindow) remaining(now time.Time, cfg SessionLimiterConfig) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, cfg.Window)
	if remaining := cfg.MaxRequests - len(w.stamps); remaining > 0 {
		return remaining
	}
	return 0
}

func (w *slidingWindow) retryAfter(now time.Time, cfg SessionLimiterConfig) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, cfg.Window)
	if len(w.stamps) < cfg.MaxRequests {
		return 0
	}
	return w.stamps[0].Add(cfg.Window).Sub(now)
}

func (w *slidingWindow) stats(now time.Time, cfg SessionLimiterConfig) WindowStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, cfg.Window)
	used := len(w.stamps)
	remaining := cfg.MaxRequests - used
	if remaining < 0 {
		remaining = 0
	}
	stats := WindowStats{
		Limit:     cfg.MaxRequests,
		Used:      used,
		Remaining: remaining,
	}
	if used > 0 {
		stats.ResetAt = w.stamps[0].Add(cfg.Window).Format(time.RFC3339)
	}
	return stats
}

// prune drops timestamps that have aged out of the window. Timestamps are
// appended in order, so the slice stays sorted and a single scan suffices.
func (w *slidingWindow) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	idx := 0
	for idx < len(w.stamps) && !w.stamps[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[idx:]...)
	}
}

// WriteRateLimitHeaders adds rate limit status headers to the response.
func WriteRateLimitHeaders(w http.ResponseWriter, limit, remaining int, retryAfter time.Duration) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if retryAfter > 0 {
		seconds := int(retryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}
}
