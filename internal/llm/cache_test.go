package llm

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResponseCache(t *testing.T) {
	t.Run("basic operations", func(t *testing.T) {
		cache := newResponseCache(5 * time.Minute)
		defer cache.Close()

		_, found := cache.get("missing")
		assert.False(t, found)

		key := cacheKey("openai", "gpt-4o-mini", "prompt")
		cache.set(key, `{"ok":true}`)

		got, found := cache.get(key)
		assert.True(t, found)
		assert.Equal(t, `{"ok":true}`, got)
		assert.Equal(t, 1, cache.size())

		cache.remove(key)
		_, found = cache.get(key)
		assert.False(t, found)
	})

	t.Run("expiration", func(t *testing.T) {
		cache := newResponseCache(50 * time.Millisecond)
		defer cache.Close()

		cache.set("k", "v")
		_, found := cache.get("k")
		assert.True(t, found)

		time.Sleep(100 * time.Millisecond)

		_, found = cache.get("k")
		assert.False(t, found)
	})

	t.Run("disabled with negative ttl", func(t *testing.T) {
		cache := newResponseCache(-1)
		defer cache.Close()

		cache.set("k", "v")
		_, found := cache.get("k")
		assert.False(t, found)
	})

	t.Run("key separates provider model and prompt", func(t *testing.T) {
		keys := map[string]struct{}{
			cacheKey("openai", "m", "p"):     {},
			cacheKey("openrouter", "m", "p"): {},
			cacheKey("openai", "m2", "p"):    {},
			cacheKey("openai", "m", "p2"):    {},
		}
		assert.Len(t, keys, 4)
	})

	t.Run("concurrent access", func(t *testing.T) {
		cache := newResponseCache(5 * time.Minute)
		defer cache.Close()

		var wg sync.WaitGroup
		for range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					cache.set("concurrent", "v")
					_, _ = cache.get("concurrent")
					_ = cache.size()
				}
			}()
		}
		wg.Wait()

		_, found := cache.get("concurrent")
		assert.True(t, found)
	})
}
