// Package ratelimit bounds the request rate to the file service using a token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rescale/filehub/internal/logging"
)

const (
	longWaitWarn     = 2 * time.Second
	warnEvery        = 10 * time.Second
	maxCooldownSleep = 500 * time.Millisecond
)

// RateLimiter implements a token bucket rate limiter.
// It allows bursts up to maxTokens, then refills at refillRate tokens/second.
// A server-requested cooldown (429 Retry-After) blocks every caller until it expires.
type RateLimiter struct {
	tokens        float64
	maxTokens     float64
	refillRate    float64
	lastRefill    time.Time
	cooldownUntil time.Time
	lastWarnTime  time.Time
	logger        *logging.Logger
	now           func() time.Time
	mu            sync.Mutex
}

// NewRateLimiter creates a new rate limiter with a full bucket.
//
// Parameters:
//   - tokensPerSecond: Rate at which tokens are added
//   - burstSize: Maximum tokens that can accumulate
func NewRateLimiter(tokensPerSecond float64, burstSize float64) *RateLimiter {
	return &RateLimiter{
		tokens:     burstSize,
		maxTokens:  burstSize,
		refillRate: tokensPerSecond,
		lastRefill: time.Now(),
		logger:     logging.NewNopLogger(),
		now:        time.Now,
	}
}

// SetLogger routes long-wait warnings to logger.
func (rl *RateLimiter) SetLogger(logger *logging.Logger) {
	if logger == nil {
		return
	}
	rl.mu.Lock()
	rl.logger = logger
	rl.mu.Unlock()
}

// Wait blocks until a token is available or context is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	start := rl.now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if cd := rl.CooldownRemaining(); cd > 0 {
			if err := sleepCtx(ctx, min(cd, maxCooldownSleep)); err != nil {
				return err
			}
			continue
		}

		if rl.TryAcquire() {
			if waited := rl.now().Sub(start); waited > 5*time.Second {
				rl.logger.Info().Dur("waited", waited).Msg("Rate limit wait completed")
			}
			return nil
		}

		wait := rl.TimeUntilNextToken()
		rl.maybeWarn(wait)
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

func (rl *RateLimiter) maybeWarn(wait time.Duration) {
	if wait <= longWaitWarn {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.now().Sub(rl.lastWarnTime) > warnEvery {
		rl.logger.Warn().Dur("wait", wait).Msg("Rate limited, waiting for request capacity")
		rl.lastWarnTime = rl.now()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// refillLocked adds tokens for the time elapsed since the last refill.
func (rl *RateLimiter) refillLocked() {
	now := rl.now()
	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// TryAcquire attempts to take one token without blocking.
func (rl *RateLimiter) TryAcquire() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.now().Before(rl.cooldownUntil) {
		return false
	}

	rl.refillLocked()
	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

// TimeUntilNextToken reports how long until at least one token is available.
func (rl *RateLimiter) TimeUntilNextToken() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	needed := 1.0 - rl.tokens
	if needed <= 0 {
		return 0
	}
	return time.Duration(needed / rl.refillRate * float64(time.Second))
}

// SetCooldown blocks all callers for d. An active longer cooldown is never shortened.
// The bucket is drained so traffic resumes gradually afterwards.
func (rl *RateLimiter) SetCooldown(d time.Duration) {
	if d <= 0 {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	until := rl.now().Add(d)
	if until.After(rl.cooldownUntil) {
		rl.cooldownUntil = until
	}
	rl.tokens = 0
	rl.lastRefill = rl.now()
}

// CooldownRemaining returns the time left on the active cooldown, or zero.
func (rl *RateLimiter) CooldownRemaining() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if d := rl.cooldownUntil.Sub(rl.now()); d > 0 {
		return d
	}
	return 0
}

// GetCurrentTokens returns the current number of tokens (for testing/debugging).
func (rl *RateLimiter) GetCurrentTokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	return rl.tokens
}
