// Package blackboard provides the shared key/value substrate of the GSA
// service. Job status records, result blobs, report artifacts and loaded
// datasets all live here; every cross-process mutation goes through this
// package's atomic operations.
package blackboard

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for blackboard operations.
var (
	// ErrNotFound indicates the requested key does not exist.
	ErrNotFound = errors.New("key not found")

	// ErrUnavailable indicates the backing store could not be reached.
	ErrUnavailable = errors.New("blackboard unavailable")
)

// Store is the narrow capability every component consumes the blackboard
// through. Implementations must be safe for concurrent use.
//
// CompareAndSet is the only way status records are mutated: it preserves the
// monotone state discipline because a concurrent retry observing a stale
// snapshot can never roll a record back.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key. A zero ttl stores without expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Incr atomically increments the counter stored under key and returns
	// the new value. Missing counters start at zero.
	Incr(ctx context.Context, key string) (int64, error)

	// CompareAndSet stores value under key only if the current value equals
	// expected. A nil expected means "key must not exist". Returns true if
	// the swap happened.
	CompareAndSet(ctx context.Context, key string, expected, value []byte, ttl time.Duration) (bool, error)

	// Keys returns all keys matching a glob pattern (f.e. "active:*").
	// Used only by the low-frequency stall sweeper.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Publish sends a fire-and-forget message on a channel. Implementations
	// without pub/sub support may discard it.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases all resources.
	Close() error
}
