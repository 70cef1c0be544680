package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter(t *testing.T) {
	t.Run("waits for refill", func(t *testing.T) {
		// 600 rpm refills one token every 100ms.
		rl := newRateLimiter(600)
		defer rl.Close()
		ctx := context.Background()

		for rl.tryAcquire() {
		}

		start := time.Now()
		require.NoError(t, rl.wait(ctx))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("context cancellation", func(t *testing.T) {
		rl := newRateLimiter(1)
		defer rl.Close()

		require.NoError(t, rl.wait(context.Background()))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error)
		go func() {
			done <- rl.wait(ctx)
		}()

		time.Sleep(10 * time.Millisecond)
		cancel()

		err := <-done
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limiter canceled")
	})

	t.Run("tryAcquire", func(t *testing.T) {
		rl := newRateLimiter(5)
		defer rl.Close()

		for i := range 5 {
			assert.True(t, rl.tryAcquire(), "attempt %d", i+1)
		}
		assert.False(t, rl.tryAcquire())
		assert.Equal(t, 0, rl.available())
	})

	t.Run("default rate limit", func(t *testing.T) {
		rl := newRateLimiter(0)
		defer rl.Close()

		for range 50 {
			require.True(t, rl.tryAcquire())
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		rl := newRateLimiter(100)
		defer rl.Close()
		ctx := context.Background()

		var acquired atomic.Int32
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 10 {
					if err := rl.wait(ctx); err == nil {
						acquired.Add(1)
					}
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(100), acquired.Load())
	})

	t.Run("refills from elapsed time", func(t *testing.T) {
		rl := newRateLimiter(60)
		defer rl.Close()
		now := rl.updated
		rl.now = func() time.Time { return now }

		for range 60 {
			require.True(t, rl.tryAcquire())
		}
		assert.False(t, rl.tryAcquire())

		now = now.Add(2500 * time.Millisecond)
		assert.Equal(t, 2, rl.available())

		now = now.Add(time.Hour)
		assert.Equal(t, 60, rl.available(), "bucket is capped")
	})

	t.Run("close releases waiters", func(t *testing.T) {
		rl := newRateLimiter(1)
		require.True(t, rl.tryAcquire())

		done := make(chan error)
		go func() {
			done <- rl.wait(context.Background())
		}()

		time.Sleep(10 * time.Millisecond)
		rl.Close()
		rl.Close()
		assert.ErrorIs(t, <-done, errLimiterClosed)
	})
}
