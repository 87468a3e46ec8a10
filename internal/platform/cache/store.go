// Package cache provides the in-memory memoization layer that sits outside
// the pure aggregation and filtering code.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Store is a thread-safe in-memory TTL map with lazy expiration. A zero or
// negative TTL passed to Set keeps the entry until it is deleted.
type Store[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	now     func() time.Time
}

// New creates an empty Store.
func New[V any]() *Store[V] {
	return &Store[V]{
		entries: make(map[string]entry[V]),
		now:     time.Now,
	}
}

// Get returns the value stored under key. Expired entries are removed and
// reported as a miss.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	var zero V
	if !ok {
		return zero, false
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		s.mu.Lock()
		if cur, still := s.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return zero, false
	}
	return e.value, true
}

// Set stores value under key for ttl.
func (s *Store[V]) Set(key string, value V, ttl time.Duration) {
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
}

// GetOrCompute returns the cached value for key, computing and storing it
// with ttl on a miss. Concurrent misses may compute more than once; the last
// writer wins, which is harmless for deterministic compute functions.
func (s *Store[V]) GetOrCompute(key string, ttl time.Duration, compute func() V) V {
	if v, ok := s.Get(key); ok {
		return v
	}
	v := compute()
	s.Set(key, v, ttl)
	return v
}

// Delete removes a single entry.
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Clear removes all entries.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]entry[V])
	s.mu.Unlock()
}

// Len returns the number of entries, expired ones included.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep removes every expired entry.
func (s *Store[V]) Sweep() {
	now := s.now()
	s.mu.Lock()
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()
}

// StartCleanup runs Sweep every interval until ctx is cancelled.
func (s *Store[V]) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep()
			}
		}
	}()
}
