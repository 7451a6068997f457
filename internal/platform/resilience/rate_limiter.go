package resilience

import (
	"context"
	"sync"
	"time"
)

// TokenBucket paces outbound calls to generation providers. Unlike the
// per-key WindowLimiter, it is a single shared bucket: tokens refill
// continuously at `rate` per second up to `burst`.
type TokenBucket struct {
	rate       float64
	burst      int
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewTokenBucket creates a token bucket with the given refill rate
// (requests per second) and burst capacity. The bucket starts full.
func NewTokenBucket(rate float64, burst int) *TokenBucket {
	if rate <= 0 {
		rate = 10
	}
	if burst <= 0 {
		burst = int(rate)
		if burst < 1 {
			burst = 1
		}
	}

	return &TokenBucket{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
	}
}

// NewTokenBucketFromRPM creates a token bucket from a requests-per-minute
// quota, the unit most provider plans are expressed in.
func NewTokenBucketFromRPM(requestsPerMinute int, burst int) *TokenBucket {
	return NewTokenBucket(float64(requestsPerMinute)/60.0, burst)
}

// Allow consumes a token if one is available, without blocking.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}

	return false
}

// Wait blocks until a token is available or the context is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		if tb.Allow() {
			return nil
		}

		select {
		case <-time.After(tb.nextTokenWait()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// refill adds tokens based on elapsed time. Caller must hold the lock.
func (tb *TokenBucket) refill() {
	now := time.Now()
	elapsed := now.Sub(tb.lastUpdate)

	tb.tokens += elapsed.Seconds() * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}

	tb.lastUpdate = now
}

// nextTokenWait estimates how long until one token becomes available.
func (tb *TokenBucket) nextTokenWait() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tokensNeeded := 1.0 - tb.tokens
	if tokensNeeded < 0 {
		tokensNeeded = 0
	}

	waitTime := time.Duration(tokensNeeded / tb.rate * float64(time.Second))

	// Floor to avoid busy-waiting when nearly full
	if waitTime < 10*time.Millisecond {
		waitTime = 10 * time.Millisecond
	}

	return waitTime
}

// SetRate changes the refill rate (requests per second).
func (tb *TokenBucket) SetRate(rate float64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.rate = rate
}

// Stats returns the configured rate, burst, and currently available tokens.
func (tb *TokenBucket) Stats() (rate float64, burst int, availableTokens float64) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return tb.rate, tb.burst, tb.tokens
}

// Reset restores the bucket to full capacity.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = float64(tb.burst)
	tb.lastUpdate = time.Now()
}
