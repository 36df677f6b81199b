package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spb722/ai-companion/pkg/kv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tierLimits map[string]int64

func (t tierLimits) TierLimit(tier string) int64 {
	if limit, ok := t[tier]; ok {
		return limit
	}
	return t["free"]
}

var limits = tierLimits{"free": 20, "pro": 500, "enterprise": Unlimited}

func newTracker(t *testing.T) (*Tracker, *kv.MemoryStore) {
	t.Helper()
	store := kv.NewMemoryStore()
	return NewTracker(store, limits), store
}

func TestConsumeWithinLimit(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	info, err := tracker.Consume(ctx, 1, "free")
	require.NoError(t, err)
	assert.Equal(t, int64(20), info.Limit)
	assert.Equal(t, int64(1), info.Used)
	assert.Equal(t, int64(19), info.Remaining)
}

func TestFreeTierRejectsTwentyFirstMessage(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := tracker.Consume(ctx, 1, "free")
		require.NoError(t, err, "message %d should be within the allowance", i+1)
	}

	info, err := tracker.Consume(ctx, 1, "free")
	assert.ErrorIs(t, err, ErrExceeded)
	assert.Equal(t, int64(20), info.Used, "a rejected message must not move the counter")
	assert.Equal(t, int64(0), info.Remaining)
}

func TestEnterpriseIsUnlimited(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	for i := 0; i < 600; i++ {
		_, err := tracker.Consume(ctx, 1, "enterprise")
		require.NoError(t, err)
	}

	info, err := tracker.Peek(ctx, 1, "enterprise")
	require.NoError(t, err)
	assert.Equal(t, Unlimited, info.Limit)
	assert.Equal(t, Unlimited, info.Remaining)
	assert.Equal(t, int64(600), info.Used)
}

func TestPeekDoesNotConsume(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	_, err := tracker.Consume(ctx, 1, "free")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		info, err := tracker.Peek(ctx, 1, "free")
		require.NoError(t, err)
		assert.Equal(t, int64(1), info.Used)
	}
}

func TestResetClearsCounter(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := tracker.Consume(ctx, 1, "free")
		require.NoError(t, err)
	}
	_, err := tracker.Consume(ctx, 1, "free")
	require.ErrorIs(t, err, ErrExceeded)

	// Tier upgrade path: reset, then the new allowance applies
	require.NoError(t, tracker.Reset(ctx, 1))

	info, err := tracker.Consume(ctx, 1, "pro")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Used)
	assert.Equal(t, int64(500), info.Limit)
}

func TestCounterExpiresAtMidnightUTC(t *testing.T) {
	store := kv.NewMemoryStore()
	tracker := NewTracker(store, limits)
	ctx := context.Background()

	now := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store.SetClock(clock)
	tracker.SetClock(clock)

	info, err := tracker.Consume(ctx, 1, "free")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), info.ResetAt)

	// Next day: a new key, so the count starts over
	now = now.Add(20 * time.Minute)
	info, err = tracker.Consume(ctx, 1, "free")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Used)
}

func TestUsersAreIndependent(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := tracker.Consume(ctx, 1, "free")
		require.NoError(t, err)
	}
	_, err := tracker.Consume(ctx, 1, "free")
	require.ErrorIs(t, err, ErrExceeded)

	info, err := tracker.Consume(ctx, 2, "free")
	require.NoError(t, err)
	assert.Equal(t, int64(1), info.Used)
}

func TestConcurrentConsumeNeverOvershoots(t *testing.T) {
	tracker, _ := newTracker(t)
	ctx := context.Background()

	const attempts = 100
	var wg sync.WaitGroup
	granted := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tracker.Consume(ctx, 1, "free"); err == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	assert.Len(t, granted, 20, "grants must equal the tier limit exactly")

	info, err := tracker.Peek(ctx, 1, "free")
	require.NoError(t, err)
	assert.Equal(t, int64(20), info.Used, "used must never exceed the limit")
}
