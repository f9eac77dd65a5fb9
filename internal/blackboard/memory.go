package blackboard

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"
)

// MemoryStore provides a thread-safe in-memory Store. It backs unit tests
// and single-process development runs; production deployments use the Redis
// store. TTLs are honored lazily on access.
type MemoryStore struct {
	// entries maps keys to stored values with their expiry
	entries map[string]memoryEntry
	// mutex protects concurrent access
	mutex sync.RWMutex
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates a new thread-safe in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
	}
}

// expired reports whether the entry's ttl has elapsed.
func (e memoryEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// lookup returns the live entry for key. Caller must hold at least a read lock.
func (s *MemoryStore) lookup(key string) ([]byte, bool) {
	entry, exists := s.entries[key]
	if !exists || entry.expired() {
		return nil, false
	}

	return entry.value, true
}

// Get returns the value stored under key, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	value, exists := s.lookup(key)
	if !exists {
		return nil, ErrNotFound
	}

	// Return a copy to prevent external modification
	return bytes.Clone(value), nil
}

// Put stores value under key with the given ttl (0 = no expiry).
func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.put(key, value, ttl)

	return nil
}

// put stores without locking. Caller must hold the write lock.
func (s *MemoryStore) put(key string, value []byte, ttl time.Duration) {
	entry := memoryEntry{value: bytes.Clone(value)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.entries[key] = entry
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.entries, key)

	return nil
}

// Exists reports whether key is present.
func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	_, exists := s.lookup(key)

	return exists, nil
}

// Incr atomically increments the counter stored under key. Counters are
// ordinary entries holding the decimal string form of the count, matching
// Redis string semantics so Get and Exists observe them.
func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var current int64

	if value, exists := s.lookup(key); exists {
		parsed, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %s is not an integer", key)
		}

		current = parsed
	}

	current++

	s.put(key, []byte(strconv.FormatInt(current, 10)), 0)

	return current, nil
}

// CompareAndSet stores value only if the current value equals expected
// (nil expected = key must not exist).
func (s *MemoryStore) CompareAndSet(
	_ context.Context,
	key string,
	expected, value []byte,
	ttl time.Duration,
) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	current, exists := s.lookup(key)

	if expected == nil {
		if exists {
			return false, nil
		}
	} else if !exists || !bytes.Equal(current, expected) {
		return false, nil
	}

	s.put(key, value, ttl)

	return true, nil
}

// Keys returns all live keys matching the glob pattern.
func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys := make([]string, 0)

	for key, entry := range s.entries {
		if entry.expired() {
			continue
		}

		if matched, err := path.Match(pattern, key); err == nil && matched {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// Publish discards the message; the in-memory store has no subscribers.
func (s *MemoryStore) Publish(_ context.Context, _ string, _ []byte) error {
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close releases nothing; present to satisfy Store.
func (s *MemoryStore) Close() error {
	return nil
}
