package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errLimiterClosed = errors.New("rate limiter closed")

// rateLimiter is a token bucket holding up to one minute of requests. Tokens
// accrue lazily from the time elapsed since the last acquisition.
type rateLimiter struct {
	updated  time.Time
	now      func() time.Time
	closed   chan struct{}
	interval time.Duration
	tokens   float64
	capacity float64
	mu       sync.Mutex
	once     sync.Once
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &rateLimiter{
		now:      time.Now,
		updated:  time.Now(),
		closed:   make(chan struct{}),
		interval: time.Minute / time.Duration(requestsPerMinute),
		tokens:   float64(requestsPerMinute),
		capacity: float64(requestsPerMinute),
	}
}

// advance credits tokens for the time since the last update. Caller holds mu.
func (rl *rateLimiter) advance() {
	now := rl.now()
	if elapsed := now.Sub(rl.updated); elapsed > 0 {
		rl.tokens = min(rl.capacity, rl.tokens+float64(elapsed)/float64(rl.interval))
	}
	rl.updated = now
}

// reserve takes a token if one is available, otherwise it reports how long
// until the next one.
func (rl *rateLimiter) reserve() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.advance()
	if rl.tokens >= 1 {
		rl.tokens--
		return 0, true
	}
	return time.Duration((1 - rl.tokens) * float64(rl.interval)), false
}

// wait blocks until a token is taken, ctx is done or the limiter is closed.
func (rl *rateLimiter) wait(ctx context.Context) error {
	for {
		delay, ok := rl.reserve()
		if ok {
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limiter canceled: %w", ctx.Err())
		case <-rl.closed:
			timer.Stop()
			return errLimiterClosed
		case <-timer.C:
		}
	}
}

func (rl *rateLimiter) tryAcquire() bool {
	_, ok := rl.reserve()
	return ok
}

// available returns the whole tokens currently in the bucket.
func (rl *rateLimiter) available() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.advance()
	return int(rl.tokens)
}

// Close releases waiters.
func (rl *rateLimiter) Close() {
	rl.once.Do(func() { close(rl.closed) })
}
