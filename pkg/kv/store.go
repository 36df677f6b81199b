// Package kv provides a narrow key-value repository interface over an
// atomically-updatable store. Rate windows, daily quotas, provider health and
// the conversation context cache all go through it, so the gateway stays
// correct when several instances share one Redis.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal contract the gateway needs from a key-value backend.
// Every counter mutation is a single atomic round trip; callers never hold
// locks across it.
type Store interface {
	// Get returns the value for key, or ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key; ttl <= 0 means no expiry
	Set(ctx context.Context, key string, value string, ttl time.Duration) error

	// Del removes key; removing a missing key is not an error
	Del(ctx context.Context, key string) error

	// Incr atomically increments the integer at key (creating it at 0) and
	// returns the new value
	Incr(ctx context.Context, key string) (int64, error)

	// IncrIfBelow atomically increments the integer at key only while the
	// current value is below limit. It returns the post-operation count and
	// whether the increment was applied. The key expires at expireAt when it
	// is created by this call. A negative limit disables the ceiling.
	IncrIfBelow(ctx context.Context, key string, limit int64, expireAt time.Time) (count int64, applied bool, err error)

	// ExpireAt sets an absolute expiry on an existing key
	ExpireAt(ctx context.Context, key string, at time.Time) error

	// Ping verifies connectivity to the backend
	Ping(ctx context.Context) error
}
