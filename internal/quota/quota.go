// Package quota tracks the per-user daily message allowance. Counters live in
// the shared key-value store under one key per user per UTC day and expire at
// the next midnight, so a new day starts with a clean slate without any
// scheduled job.
package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spb722/ai-companion/pkg/kv"
)

// ErrExceeded is returned when a user has spent their daily allowance
var ErrExceeded = errors.New("quota: daily message limit reached")

// Unlimited is the limit value meaning no ceiling applies
const Unlimited int64 = -1

// Info is the quota state reported to callers and surfaced on /quota
type Info struct {
	Tier      string    `json:"tier"`
	Limit     int64     `json:"limit"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Limits maps a subscription tier to its daily ceiling
type Limits interface {
	TierLimit(tier string) int64
}

// Tracker consumes and reports daily quota
type Tracker struct {
	store  kv.Store
	limits Limits

	// now is swappable for tests
	now func() time.Time
}

// NewTracker creates a quota tracker
func NewTracker(store kv.Store, limits Limits) *Tracker {
	return &Tracker{store: store, limits: limits, now: time.Now}
}

// SetClock overrides the tracker's clock. Tests only.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

func (t *Tracker) key(userID uint) (string, time.Time) {
	now := t.now().UTC()
	day := now.Format("2006-01-02")
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return fmt.Sprintf("quota:%d:%s", userID, day), midnight
}

// Consume spends one unit of the user's daily allowance. The check and the
// increment are one atomic store operation, so concurrent sends can never push
// used past the limit. Unlike the rate limiter, quota fails closed: if the
// store cannot confirm the spend, the message is rejected rather than given
// away for free.
func (t *Tracker) Consume(ctx context.Context, userID uint, tier string) (Info, error) {
	limit := t.limits.TierLimit(tier)
	key, resetAt := t.key(userID)

	count, applied, err := t.store.IncrIfBelow(ctx, key, limit, resetAt)
	if err != nil {
		return Info{}, fmt.Errorf("quota: consume: %w", err)
	}

	info := Info{Tier: tier, Limit: limit, Used: count, ResetAt: resetAt}
	info.Remaining = remaining(limit, count)

	if !applied {
		return info, ErrExceeded
	}
	return info, nil
}

// Peek reports the user's quota state without spending anything
func (t *Tracker) Peek(ctx context.Context, userID uint, tier string) (Info, error) {
	limit := t.limits.TierLimit(tier)
	key, resetAt := t.key(userID)

	var used int64
	raw, err := t.store.Get(ctx, key)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		used = 0
	case err != nil:
		return Info{}, fmt.Errorf("quota: peek: %w", err)
	default:
		used, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Info{}, fmt.Errorf("quota: corrupt counter for user %d: %w", userID, err)
		}
	}

	return Info{
		Tier:      tier,
		Limit:     limit,
		Used:      used,
		Remaining: remaining(limit, used),
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the user's counter for the current day. Called on tier
// upgrade so the new allowance takes effect immediately.
func (t *Tracker) Reset(ctx context.Context, userID uint) error {
	key, _ := t.key(userID)
	return t.store.Del(ctx, key)
}

func remaining(limit, used int64) int64 {
	if limit == Unlimited {
		return Unlimited
	}
	r := limit - used
	if r < 0 {
		return 0
	}
	return r
}
