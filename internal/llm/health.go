package llm

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spb722/ai-companion/pkg/kv"
)

const pinnedKey = "provider:pinned"

// Health tracks consecutive provider failures in the shared store. A provider
// whose failure count reaches the threshold is considered degraded and moves
// to the back of the candidate order until its counter expires.
type Health struct {
	store     kv.Store
	threshold int
	cooldown  time.Duration

	now func() time.Time
}

// NewHealth creates a health tracker
func NewHealth(store kv.Store, threshold int, cooldown time.Duration) *Health {
	return &Health{store: store, threshold: threshold, cooldown: cooldown, now: time.Now}
}

func failKey(name string) string {
	return fmt.Sprintf("provider:%s:fails", name)
}

// RecordFailure counts one failed call against the provider. The counter
// carries the cooldown as its lifetime, so a quiet provider recovers on its
// own.
func (h *Health) RecordFailure(ctx context.Context, name string) {
	if _, err := h.store.Incr(ctx, failKey(name)); err != nil {
		return
	}
	_ = h.store.ExpireAt(ctx, failKey(name), h.now().Add(h.cooldown))
}

// RecordSuccess clears the provider's failure counter
func (h *Health) RecordSuccess(ctx context.Context, name string) {
	_ = h.store.Del(ctx, failKey(name))
}

// IsDegraded reports whether the provider has failed too often recently.
// Store errors read as healthy; degradation is an optimization, not a gate.
func (h *Health) IsDegraded(ctx context.Context, name string) bool {
	raw, err := h.store.Get(ctx, failKey(name))
	if err != nil {
		return false
	}
	fails, err := strconv.Atoi(raw)
	if err != nil {
		return false
	}
	return fails >= h.threshold
}

// Failures returns the provider's current failure count
func (h *Health) Failures(ctx context.Context, name string) int {
	raw, err := h.store.Get(ctx, failKey(name))
	if err != nil {
		return 0
	}
	fails, _ := strconv.Atoi(raw)
	return fails
}

// Pin forces all traffic to one provider until Unpin. Used by the admin
// switch endpoint.
func (h *Health) Pin(ctx context.Context, name string) error {
	return h.store.Set(ctx, pinnedKey, name, 0)
}

// Unpin removes the pinned provider override
func (h *Health) Unpin(ctx context.Context) error {
	return h.store.Del(ctx, pinnedKey)
}

// Pinned returns the pinned provider name, or "" when none is set
func (h *Health) Pinned(ctx context.Context) string {
	name, err := h.store.Get(ctx, pinnedKey)
	if err != nil {
		return ""
	}
	return name
}
