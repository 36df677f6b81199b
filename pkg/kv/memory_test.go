package kv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "k", "v", 0))
	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	require.NoError(t, store.Del(ctx, "k"))
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	require.NoError(t, store.Set(ctx, "k", "v", time.Minute))

	val, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreIncrIfBelow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, applied, err := store.IncrIfBelow(ctx, "counter", 3, time.Time{})
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, i, count)
	}

	count, applied, err := store.IncrIfBelow(ctx, "counter", 3, time.Time{})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, int64(3), count, "rejected call must not move the counter")
}

func TestMemoryStoreIncrIfBelowUnlimited(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, applied, err := store.IncrIfBelow(ctx, "counter", -1, time.Time{})
		require.NoError(t, err)
		assert.True(t, applied)
	}
}

func TestMemoryStoreIncrIfBelowSetsExpiryOnCreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	expireAt := now.Add(time.Hour)
	_, _, err := store.IncrIfBelow(ctx, "counter", 10, expireAt)
	require.NoError(t, err)
	_, _, err = store.IncrIfBelow(ctx, "counter", 10, expireAt)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = store.Get(ctx, "counter")
	assert.ErrorIs(t, err, ErrNotFound, "counter must expire with its window")

	// A fresh window starts the count over
	count, applied, err := store.IncrIfBelow(ctx, "counter", 10, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStoreConcurrentIncrIfBelow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	applied := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.IncrIfBelow(ctx, "counter", 10, time.Time{})
			assert.NoError(t, err)
			applied <- ok
		}()
	}
	wg.Wait()
	close(applied)

	grants := 0
	for ok := range applied {
		if ok {
			grants++
		}
	}
	assert.Equal(t, 10, grants, "exactly limit increments may be applied")
}
