package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrRateLimitExceeded is returned when a caller is over its limit
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// WindowLimiter implements per-key fixed-window rate limiting. Each key
// (typically a user id) gets its own counter that resets when its window
// elapses. The admission check and the counter increment happen in a
// single critical section, so concurrent callers can never admit more
// than the configured limit within one window.
type WindowLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	entries map[string]*windowEntry

	stopCh    chan struct{}
	closeOnce sync.Once

	allowed  int64
	rejected int64
}

type windowEntry struct {
	count       int
	windowStart time.Time
}

// WindowLimiterStats reports limiter counters and the number of tracked keys.
type WindowLimiterStats struct {
	Allowed  int64
	Rejected int64
	Keys     int
}

// NewWindowLimiter creates a per-key fixed-window limiter allowing `limit`
// requests per `window`. Stale keys are purged by a background sweep.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return NewWindowLimiterWithSweep(limit, window, 5*time.Minute)
}

// NewWindowLimiterWithSweep creates a limiter with an explicit sweep
// interval. A sweepInterval <= 0 disables the background sweep.
func NewWindowLimiterWithSweep(limit int, window time.Duration, sweepInterval time.Duration) *WindowLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}

	wl := &WindowLimiter{
		limit:   limit,
		window:  window,
		entries: make(map[string]*windowEntry),
		stopCh:  make(chan struct{}),
	}

	if sweepInterval > 0 {
		go wl.sweep(sweepInterval)
	}

	return wl
}

// Allow reports whether the request identified by key may proceed, and
// consumes one slot of the key's window when it may. Admitted requests
// are counted even if the caller's work later fails; the window tracks
// admissions, not completions.
func (wl *WindowLimiter) Allow(key string) bool {
	now := time.Now()

	wl.mu.Lock()
	defer wl.mu.Unlock()

	entry, ok := wl.entries[key]
	if !ok {
		entry = &windowEntry{windowStart: now}
		wl.entries[key] = entry
	}

	// Roll the window over inside the same critical section as the
	// admission check, so a reset and a concurrent increment cannot race
	if now.Sub(entry.windowStart) >= wl.window {
		entry.count = 0
		entry.windowStart = now
	}

	if entry.count >= wl.limit {
		wl.rejected++
		return false
	}

	entry.count++
	wl.allowed++
	return true
}

// Remaining returns how many admissions the key has left in its current
// window. A key that was never seen has the full limit remaining.
func (wl *WindowLimiter) Remaining(key string) int {
	now := time.Now()

	wl.mu.Lock()
	defer wl.mu.Unlock()

	entry, ok := wl.entries[key]
	if !ok || now.Sub(entry.windowStart) >= wl.window {
		return wl.limit
	}

	remaining := wl.limit - entry.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Stats returns aggregate limiter counters.
func (wl *WindowLimiter) Stats() WindowLimiterStats {
	wl.mu.Lock()
	defer wl.mu.Unlock()

	return WindowLimiterStats{
		Allowed:  wl.allowed,
		Rejected: wl.rejected,
		Keys:     len(wl.entries),
	}
}

// sweep periodically removes keys whose window expired long ago, keeping
// the map bounded by the active caller set rather than every key ever seen.
func (wl *WindowLimiter) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wl.sweepStale()
		case <-wl.stopCh:
			return
		}
	}
}

func (wl *WindowLimiter) sweepStale() {
	now := time.Now()

	wl.mu.Lock()
	defer wl.mu.Unlock()

	for key, entry := range wl.entries {
		if now.Sub(entry.windowStart) >= 2*wl.window {
			delete(wl.entries, key)
		}
	}
}

// Close stops the background sweep.
func (wl *WindowLimiter) Close() {
	wl.closeOnce.Do(func() {
		close(wl.stopCh)
	})
}
