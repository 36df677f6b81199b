// Package ratelimit implements a fixed-window request limiter backed by the
// shared key-value store, so the window survives restarts and is enforced
// consistently across gateway instances.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/spb722/ai-companion/pkg/kv"
	"github.com/spb722/ai-companion/pkg/logger"
)

// Result describes the outcome of one admission check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter counts requests per identity within fixed windows. The window
// boundary is derived from wall time, so all instances agree on it without
// coordination.
type Limiter struct {
	store  kv.Store
	limit  int
	window time.Duration
	log    *logger.Logger

	// now is swappable for tests
	now func() time.Time
}

// New creates a limiter allowing limit requests per window
func New(store kv.Store, limit int, window time.Duration, log *logger.Logger) *Limiter {
	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		log:    log,
		now:    time.Now,
	}
}

// SetClock overrides the limiter's clock. Tests only.
func (l *Limiter) SetClock(now func() time.Time) {
	l.now = now
}

// Allow records one request for identity and reports whether it is admitted.
// When the store is unreachable the limiter fails open: a broken Redis must
// not take chat down with it.
func (l *Limiter) Allow(ctx context.Context, identity string) Result {
	now := l.now()
	bucket := now.Unix() / int64(l.window.Seconds())
	resetAt := time.Unix((bucket+1)*int64(l.window.Seconds()), 0).UTC()
	key := fmt.Sprintf("rate:%s:%d", identity, bucket)

	count, _, err := l.store.IncrIfBelow(ctx, key, -1, resetAt)
	if err != nil {
		l.log.Warn("rate limiter store unavailable, failing open",
			"identity", identity,
			"error", err.Error(),
		)
		return Result{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: resetAt}
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if count > int64(l.limit) {
		return Result{
			Allowed:    false,
			Limit:      l.limit,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}

	return Result{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
