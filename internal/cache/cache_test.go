package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c := NewTTL[string](time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", "apple")
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "apple", v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "entry at exactly ttl is expired")

	c.Sweep()
	assert.Equal(t, 0, c.Len())

	c.Set("b", "banana")
	c.Delete("b")
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("second holder is refused until release", func(t *testing.T) {
		l := NewMemoryLocker(time.Minute)

		release, ok, err := l.TryLock(ctx, "pi_1")
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = l.TryLock(ctx, "pi_1")
		require.NoError(t, err)
		assert.False(t, ok)

		_, ok, _ = l.TryLock(ctx, "pi_2")
		assert.True(t, ok, "different keys do not contend")

		release()
		release()
		_, ok, _ = l.TryLock(ctx, "pi_1")
		assert.True(t, ok)
	})

	t.Run("expired lock can be taken over", func(t *testing.T) {
		now := time.Now()
		l := NewMemoryLocker(time.Second)
		l.now = func() time.Time { return now }

		stale, ok, _ := l.TryLock(ctx, "k")
		require.True(t, ok)

		now = now.Add(2 * time.Second)
		_, ok, _ = l.TryLock(ctx, "k")
		require.True(t, ok)

		// releasing the stale lock must not free the new holder
		stale()
		_, ok, _ = l.TryLock(ctx, "k")
		assert.False(t, ok)
	})

	t.Run("concurrent callers", func(t *testing.T) {
		l := NewMemoryLocker(time.Minute)
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok, _ := l.TryLock(ctx, "same"); ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}
