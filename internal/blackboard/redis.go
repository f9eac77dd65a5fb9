package blackboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// casScript implements compare-and-set atomically on the server side.
// An empty expected argument means "key must not exist". A ttl of 0 stores
// without expiry.
var casScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
local expected = ARGV[1]
if (current == false and expected == '') or (current ~= false and current == expected) then
	if ARGV[3] == '0' then
		redis.call('SET', KEYS[1], ARGV[2])
	else
		redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
	end
	return 1
end
return 0
`)

// redisClient is the subset of go-redis shared by redis.Client and
// redis.ClusterClient. Using the common interface lets one Store type serve
// both the single-node and the sharded deployment; the client library hides
// the slot routing.
type redisClient interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisStore implements Store on a Redis instance or cluster.
type RedisStore struct {
	client redisClient
	closer func() error
}

// NewRedisStore connects to a single Redis node.
func NewRedisStore(cfg *Config) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address(),
		Password:     cfg.Password,
		DB:           cfg.Database,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
	})

	return &RedisStore{client: client, closer: client.Close}
}

// NewClusterStore connects to a sharded Redis cluster. The cluster client
// routes each key to its shard; callers see the same narrow capability.
func NewClusterStore(cfg *Config) *RedisStore {
	client := redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:        cfg.ClusterAddrs,
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
	})

	return &RedisStore{client: client, closer: client.Close}
}

// newStoreWithClient is used by tests to inject a client pointed at miniredis.
func newStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, closer: client.Close}
}

// Get returns the value stored under key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("%w: get %s: %w", ErrUnavailable, key, err)
	}

	return value, nil
}

// Put stores value under key with the given ttl (0 = no expiry).
func (s *RedisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: put %s: %w", ErrUnavailable, key, err)
	}

	return nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: delete %s: %w", ErrUnavailable, key, err)
	}

	return nil
}

// Exists reports whether key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	count, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: exists %s: %w", ErrUnavailable, key, err)
	}

	return count > 0, nil
}

// Incr atomically increments the counter stored under key.
func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	value, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incr %s: %w", ErrUnavailable, key, err)
	}

	return value, nil
}

// CompareAndSet stores value only if the current value equals expected
// (nil expected = key must not exist).
func (s *RedisStore) CompareAndSet(
	ctx context.Context,
	key string,
	expected, value []byte,
	ttl time.Duration,
) (bool, error) {
	result, err := casScript.Run(ctx, s.client,
		[]string{key},
		string(expected), string(value), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: cas %s: %w", ErrUnavailable, key, err)
	}

	return result == 1, nil
}

// Keys returns all keys matching the glob pattern via SCAN.
func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)

	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: scan %s: %w", ErrUnavailable, pattern, err)
		}

		keys = append(keys, batch...)

		if next == 0 {
			return keys, nil
		}

		cursor = next
	}
}

// Publish sends a message on a pub/sub channel.
func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish %s: %w", ErrUnavailable, channel, err)
	}

	return nil
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return nil
}

// Close releases the underlying connections.
func (s *RedisStore) Close() error {
	return s.closer()
}
