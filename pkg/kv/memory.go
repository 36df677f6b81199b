package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type item struct {
	value      string
	expiration int64 // unix nanos, 0 = no expiry
}

func (it item) expired(now time.Time) bool {
	return it.expiration > 0 && now.UnixNano() > it.expiration
}

// MemoryStore is a thread-safe in-memory Store with expiration. It backs tests
// and serves as a degraded single-instance fallback when Redis is unreachable.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]item

	// now is swappable so tests can control window and quota boundaries
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	store := &MemoryStore{
		items: make(map[string]item),
		now:   time.Now,
	}

	go store.cleanupLoop()

	return store
}

// SetClock overrides the store's clock. Intended for tests.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, found := s.items[key]
	if !found || it.expired(s.now()) {
		return "", ErrNotFound
	}
	return it.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exp int64
	if ttl > 0 {
		exp = s.now().Add(ttl).UnixNano()
	}
	s.items[key] = item{value: value, expiration: exp}
	return nil
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.incrLocked(key), nil
}

func (s *MemoryStore) IncrIfBelow(_ context.Context, key string, limit int64, expireAt time.Time) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.currentLocked(key)
	if limit >= 0 && current >= limit {
		return current, false, nil
	}

	count := s.incrLocked(key)
	if count == 1 && !expireAt.IsZero() {
		it := s.items[key]
		it.expiration = expireAt.UnixNano()
		s.items[key] = it
	}
	return count, true, nil
}

func (s *MemoryStore) ExpireAt(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, found := s.items[key]
	if !found || it.expired(s.now()) {
		return ErrNotFound
	}
	it.expiration = at.UnixNano()
	s.items[key] = it
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

func (s *MemoryStore) currentLocked(key string) int64 {
	it, found := s.items[key]
	if !found || it.expired(s.now()) {
		return 0
	}
	n, _ := strconv.ParseInt(it.value, 10, 64)
	return n
}

func (s *MemoryStore) incrLocked(key string) int64 {
	it, found := s.items[key]
	if !found || it.expired(s.now()) {
		s.items[key] = item{value: "1"}
		return 1
	}

	n, _ := strconv.ParseInt(it.value, 10, 64)
	n++
	it.value = strconv.FormatInt(n, 10)
	s.items[key] = it
	return n
}

// cleanupLoop periodically drops expired entries so the map does not grow
// without bound
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		now := s.now()
		for k, it := range s.items {
			if it.expired(now) {
				delete(s.items, k)
			}
		}
		s.mu.Unlock()
	}
}
