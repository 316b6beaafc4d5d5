package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(rate, burst float64) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(rate, burst)
	rl.now = clock.Now
	rl.lastRefill = clock.Now()
	return rl, clock
}

func TestNewRateLimiterStartsFull(t *testing.T) {
	rl, _ := newTestLimiter(1.0, 10.0)
	if tokens := rl.GetCurrentTokens(); tokens != 10.0 {
		t.Errorf("expected 10 tokens, got %.2f", tokens)
	}
}

func TestTryAcquireConsumesToken(t *testing.T) {
	rl, _ := newTestLimiter(1.0, 5.0)

	for i := 0; i < 5; i++ {
		if !rl.TryAcquire() {
			t.Fatalf("TryAcquire() failed on attempt %d", i+1)
		}
	}
	if rl.TryAcquire() {
		t.Error("TryAcquire() should fail when bucket is empty")
	}
}

func TestTokenRefill(t *testing.T) {
	tests := []struct {
		name    string
		rate    float64
		burst   float64
		advance time.Duration
		want    float64
	}{
		{"partial refill", 10, 10, 200 * time.Millisecond, 2},
		{"caps at max", 100, 5, 10 * time.Second, 5},
		{"no time passed", 10, 10, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl, clock := newTestLimiter(tt.rate, tt.burst)
			for rl.TryAcquire() {
			}
			clock.Advance(tt.advance)
			got := rl.GetCurrentTokens()
			if got < tt.want-0.01 || got > tt.want+0.01 {
				t.Errorf("tokens = %.2f, want %.2f", got, tt.want)
			}
		})
	}
}

func TestTimeUntilNextToken(t *testing.T) {
	rl, _ := newTestLimiter(4.0, 1.0)
	if d := rl.TimeUntilNextToken(); d != 0 {
		t.Errorf("full bucket should need no wait, got %v", d)
	}
	rl.TryAcquire()
	if d := rl.TimeUntilNextToken(); d != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", d)
	}
}

func TestCooldown(t *testing.T) {
	rl, clock := newTestLimiter(100.0, 100.0)

	if d := rl.CooldownRemaining(); d != 0 {
		t.Errorf("CooldownRemaining() = %v, want 0", d)
	}

	rl.SetCooldown(500 * time.Millisecond)
	if rl.TryAcquire() {
		t.Error("TryAcquire() should fail during cooldown")
	}

	clock.Advance(50 * time.Millisecond)
	rl.SetCooldown(100 * time.Millisecond) // must not shorten
	if d := rl.CooldownRemaining(); d != 450*time.Millisecond {
		t.Errorf("cooldown shortened to %v", d)
	}

	rl.SetCooldown(time.Second) // extends
	if d := rl.CooldownRemaining(); d != time.Second {
		t.Errorf("cooldown should extend to 1s, got %v", d)
	}

	clock.Advance(time.Second)
	if d := rl.CooldownRemaining(); d != 0 {
		t.Errorf("cooldown should have expired, got %v", d)
	}
	if !rl.TryAcquire() {
		t.Error("tokens should refill after cooldown")
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	rl := NewRateLimiter(0.001, 1.0)
	rl.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err != context.DeadlineExceeded {
		t.Errorf("Wait() = %v, want context.DeadlineExceeded", err)
	}
}

func TestWaitBlocksUntilTokenAvailable(t *testing.T) {
	rl := NewRateLimiter(20.0, 1.0)
	rl.TryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("Wait() returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Wait() returned too quickly (%v)", elapsed)
	}
}

func TestConcurrentAccess(t *testing.T) {
	rl := NewRateLimiter(1000.0, 50.0)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if err := rl.Wait(ctx); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Wait() failed under contention: %v", err)
	}
}
