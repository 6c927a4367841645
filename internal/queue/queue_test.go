package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

// memCache is an in-memory ports.Cache for tests.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) Put(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = append([]byte(nil), value...)
	return nil
}

func (c *memCache) Get(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *memCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestQueue(t *testing.T, cache *memCache, clock *fakeClock) *OfflineQueue {
	t.Helper()
	q, err := New(cache, clock, zap.NewNop(), 3, time.Second)
	assert.NoError(t, err)
	return q
}

func TestEnqueueAndDrain(t *testing.T) {
	t.Run("DeliversOnDrain", func(t *testing.T) {
		// Arrange
		cache := newMemCache()
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		q := newTestQueue(t, cache, clock)

		var delivered []string
		q.SetSender(func(ctx context.Context, payload json.RawMessage) error {
			delivered = append(delivered, string(payload))
			return nil
		})

		_, err := q.Enqueue(map[string]any{"kind": "persist"})
		assert.NoError(t, err)
		assert.Equal(t, 1, q.Len())

		// Act
		q.Drain(context.Background())

		// Assert
		assert.Equal(t, 0, q.Len())
		assert.Len(t, delivered, 1)
		assert.Contains(t, delivered[0], "persist")
	})

	t.Run("BacksOffBetweenFailures", func(t *testing.T) {
		// Arrange
		cache := newMemCache()
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		q := newTestQueue(t, cache, clock)

		attempts := 0
		q.SetSender(func(ctx context.Context, payload json.RawMessage) error {
			attempts++
			return errors.New("still down")
		})

		_, err := q.Enqueue("op")
		assert.NoError(t, err)

		// Act: first drain fails; a second drain inside the backoff window is
		// a no-op, after the window the item is due again.
		q.Drain(context.Background())
		assert.Equal(t, 1, attempts)

		q.Drain(context.Background())
		assert.Equal(t, 1, attempts)

		clock.Advance(2*time.Second + time.Millisecond)
		q.Drain(context.Background())
		assert.Equal(t, 2, attempts)
	})

	t.Run("DropsAfterRetryCap", func(t *testing.T) {
		// Arrange
		cache := newMemCache()
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		q := newTestQueue(t, cache, clock)

		q.SetSender(func(ctx context.Context, payload json.RawMessage) error {
			return errors.New("permanently down")
		})

		var dropped *Item
		var droppedErr error
		q.SetTerminalHandler(func(item Item, lastErr error) {
			dropped = &item
			droppedErr = lastErr
		})

		_, err := q.Enqueue("op")
		assert.NoError(t, err)

		// Act: 4 failed deliveries walk retryCount past the cap of 3.
		for i := 0; i < 4; i++ {
			q.Drain(context.Background())
			clock.Advance(time.Hour)
		}

		// Assert
		assert.Equal(t, 0, q.Len())
		assert.NotNil(t, dropped)
		assert.Equal(t, 4, dropped.RetryCount)
		assert.EqualError(t, droppedErr, "permanently down")
	})
}

func TestSetOnline(t *testing.T) {
	// Arrange
	cache := newMemCache()
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	q := newTestQueue(t, cache, clock)

	delivered := 0
	q.SetSender(func(ctx context.Context, payload json.RawMessage) error {
		delivered++
		return nil
	})

	q.SetOnline(context.Background(), false)
	_, err := q.Enqueue("op")
	assert.NoError(t, err)

	// Offline: drain is a no-op.
	q.Drain(context.Background())
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 1, q.Len())

	// Act: regaining connectivity drains automatically.
	q.SetOnline(context.Background(), true)

	// Assert
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, q.Len())
}

func TestDurability(t *testing.T) {
	t.Run("SurvivesRestart", func(t *testing.T) {
		// Arrange
		cache := newMemCache()
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		q := newTestQueue(t, cache, clock)

		item, err := q.Enqueue(map[string]any{"kind": "sync"})
		assert.NoError(t, err)

		// Act: a fresh queue over the same cache sees the item.
		reloaded := newTestQueue(t, cache, clock)

		// Assert
		assert.Equal(t, 1, reloaded.Len())

		delivered := 0
		reloaded.SetSender(func(ctx context.Context, payload json.RawMessage) error {
			delivered++
			assert.JSONEq(t, string(item.Payload), string(payload))
			return nil
		})
		reloaded.Drain(context.Background())
		assert.Equal(t, 1, delivered)
	})

	t.Run("CorruptEntryDiscarded", func(t *testing.T) {
		cache := newMemCache()
		assert.NoError(t, cache.Put(StorageKey, []byte("{{{not json")))
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

		q := newTestQueue(t, cache, clock)
		assert.Equal(t, 0, q.Len())
	})
}
