package blackboard

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStores returns every Store implementation under test, keyed by name.
// The Redis store runs against miniredis so the Lua compare-and-set script is
// exercised without a real server.
func newTestStores(t *testing.T) map[string]Store {
	t.Helper()

	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})

	redisStore := newStoreWithClient(client)
	t.Cleanup(func() { _ = redisStore.Close() })

	return map[string]Store{
		"redis":  redisStore,
		"memory": NewMemoryStore(),
	}
}

func TestStorePutGet(t *testing.T) {
	ctx := context.Background()

	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "status:Analysis00000001", []byte(`{"status":"running"}`), 0))

			value, err := store.Get(ctx, "status:Analysis00000001")
			require.NoError(t, err)
			assert.JSONEq(t, `{"status":"running"}`, string(value))

			_, err = store.Get(ctx, "status:missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreExistsAndDelete(t *testing.T) {
	ctx := context.Background()

	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put(ctx, "result:x", []byte("blob"), 0))

			exists, err := store.Exists(ctx, "result:x")
			require.NoError(t, err)
			assert.True(t, exists)

			require.NoError(t, store.Delete(ctx, "result:x"))

			exists, err = store.Exists(ctx, "result:x")
			require.NoError(t, err)
			assert.False(t, exists)

			// deleting a missing key is not an error
			assert.NoError(t, store.Delete(ctx, "result:x"))
		})
	}
}

func TestStoreIncrIsExact(t *testing.T) {
	ctx := context.Background()

	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			const n = 25

			var last int64

			for i := 0; i < n; i++ {
				value, err := store.Incr(ctx, CounterKey("analysis"))
				require.NoError(t, err)
				last = value
			}

			assert.Equal(t, int64(n), last)

			// the counter is an ordinary string value, as in Redis
			value, err := store.Get(ctx, CounterKey("analysis"))
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("%d", n), string(value))

			exists, err := store.Exists(ctx, CounterKey("analysis"))
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}

func TestStoreCompareAndSet(t *testing.T) {
	ctx := context.Background()

	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			key := "status:Analysis00000002"

			// nil expected = create only if absent
			swapped, err := store.CompareAndSet(ctx, key, nil, []byte("v1"), 0)
			require.NoError(t, err)
			assert.True(t, swapped)

			// creating again must fail
			swapped, err = store.CompareAndSet(ctx, key, nil, []byte("v1b"), 0)
			require.NoError(t, err)
			assert.False(t, swapped)

			// stale expected must fail
			swapped, err = store.CompareAndSet(ctx, key, []byte("stale"), []byte("v2"), 0)
			require.NoError(t, err)
			assert.False(t, swapped)

			// matching expected must succeed
			swapped, err = store.CompareAndSet(ctx, key, []byte("v1"), []byte("v2"), 0)
			require.NoError(t, err)
			assert.True(t, swapped)

			value, err := store.Get(ctx, key)
			require.NoError(t, err)
			assert.Equal(t, "v2", string(value))
		})
	}
}

func TestStoreKeysPattern(t *testing.T) {
	ctx := context.Background()

	for name, store := range newTestStores(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 3; i++ {
				id := fmt.Sprintf("Analysis%08d", i+1)
				require.NoError(t, store.Put(ctx, ActiveKey("analysis", id), []byte("1"), 0))
			}

			require.NoError(t, store.Put(ctx, "status:Analysis00000001", []byte("x"), 0))

			keys, err := store.Keys(ctx, ActivePattern)
			require.NoError(t, err)
			assert.Len(t, keys, 3)

			for _, key := range keys {
				assert.Contains(t, key, "active:")
			}
		})
	}
}

func TestRedisStoreTTLExpires(t *testing.T) {
	ctx := context.Background()

	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	store := newStoreWithClient(client)

	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Put(ctx, "status:short-lived", []byte("x"), time.Second))

	// miniredis only advances time explicitly
	mini.FastForward(2 * time.Second)

	_, err := store.Get(ctx, "status:short-lived")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTTLExpires(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Put(ctx, "status:short-lived", []byte("x"), time.Millisecond))

	time.Sleep(5 * time.Millisecond)

	_, err := store.Get(ctx, "status:short-lived")
	assert.ErrorIs(t, err, ErrNotFound)

	exists, err := store.Exists(ctx, "status:short-lived")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{Host: "localhost", Port: 6379}
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost:6379", cfg.Address())

	cfg = &Config{Host: "localhost", Port: 0}
	assert.Error(t, cfg.Validate())

	cfg = &Config{Host: "localhost", Port: 6379, Cluster: true}
	assert.Error(t, cfg.Validate())
}
