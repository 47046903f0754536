package academicapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/academic-tracker/student-dashboard/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER - Token Bucket implementation
// ══════════════════════════════════════════════════════════════════════════════

// RateLimiter throttles outgoing requests with a token bucket so a dashboard
// reload (five parallel fetches) does not flood the backend.
type RateLimiter struct {
	mu sync.Mutex

	maxTokens   float64
	refillRate  float64 // tokens per second
	tokens      float64
	lastRefill  time.Time
	waitTimeout time.Duration

	// blockedUntil is set by RecordRateLimitHit from a Retry-After header.
	blockedUntil time.Time

	now func() time.Time
}

// RateLimiterConfig contains configuration for the rate limiter.
type RateLimiterConfig struct {
	// RequestsPerSecond is the sustained request rate
	RequestsPerSecond float64

	// BurstSize is the number of requests allowed back to back
	BurstSize int

	// WaitTimeout is the maximum time Allow waits for a token
	WaitTimeout time.Duration
}

// DefaultRateLimiterConfig returns defaults sized for one interactive user.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 10,
		BurstSize:         5,
		WaitTimeout:       10 * time.Second,
	}
}

// NewRateLimiter creates a RateLimiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 1
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	rl := &RateLimiter{
		maxTokens:   float64(config.BurstSize),
		refillRate:  config.RequestsPerSecond,
		tokens:      float64(config.BurstSize),
		waitTimeout: config.WaitTimeout,
		now:         time.Now,
	}
	rl.lastRefill = rl.now()
	return rl
}

// Allow blocks until a token is available, the context is done or the wait
// would exceed the configured timeout.
func (rl *RateLimiter) Allow(ctx context.Context) error {
	deadline := rl.now().Add(rl.waitTimeout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		wait, ok := rl.tryAcquire()
		if ok {
			return nil
		}

		if rl.waitTimeout > 0 && rl.now().Add(wait).After(deadline) {
			return shared.WrapError("api", "RateLimit", shared.ErrAPIRateLimited,
				fmt.Sprintf("client throttled, retry after %s", wait), nil)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// TryAllow takes a token without blocking.
func (rl *RateLimiter) TryAllow() bool {
	_, ok := rl.tryAcquire()
	return ok
}

// tryAcquire returns (0, true) when a token was taken, otherwise how long to
// wait before trying again.
func (rl *RateLimiter) tryAcquire() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.blockedUntil) {
		return rl.blockedUntil.Sub(now), false
	}

	rl.refill(now)
	if rl.tokens < 1 {
		missing := 1 - rl.tokens
		return time.Duration(missing / rl.refillRate * float64(time.Second)), false
	}

	rl.tokens--
	return 0, true
}

// refill must be called with the lock held.
func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// RecordRateLimitHit empties the bucket and blocks new requests for
// retryAfter after the API answered 429.
func (rl *RateLimiter) RecordRateLimitHit(retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = 0
	rl.lastRefill = now
	if until := now.Add(retryAfter); until.After(rl.blockedUntil) {
		rl.blockedUntil = until
	}
}

// Reset refills the bucket and clears any block.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens = rl.maxTokens
	rl.lastRefill = rl.now()
	rl.blockedUntil = time.Time{}
}

// RateLimiterStatus is a point-in-time view of the limiter.
type RateLimiterStatus struct {
	AvailableTokens float64   `json:"available_tokens"`
	MaxTokens       float64   `json:"max_tokens"`
	RefillRate      float64   `json:"refill_rate"`
	BlockedUntil    time.Time `json:"blocked_until,omitempty"`
}

// Status returns the current status of the rate limiter.
func (rl *RateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill(rl.now())

	return RateLimiterStatus{
		AvailableTokens: rl.tokens,
		MaxTokens:       rl.maxTokens,
		RefillRate:      rl.refillRate,
		BlockedUntil:    rl.blockedUntil,
	}
}
