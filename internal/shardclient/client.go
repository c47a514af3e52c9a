// Package shardclient defines the capability a single backing shard must
// expose to the counter core, and a Redis-backed implementation of it.
package shardclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMissing indicates the requested key has no value on the shard.
var ErrMissing = errors.New("shardclient: key not present")

// Client is the abstract KV shard capability consumed by the shard
// manager. Implementations must treat the value space as non-negative
// 64-bit integers and the key space as flat strings.
type Client interface {
	// Incr adds delta to the counter at key and returns the new value.
	Incr(ctx context.Context, key string, delta int64) (int64, error)

	// Get returns the current value at key, or (0, nil) if absent: a
	// missing key is not an error.
	Get(ctx context.Context, key string) (int64, error)

	// MGet returns the current values for each of keys, in order. Missing
	// keys are reported as 0, matching Get's missing-key semantics.
	MGet(ctx context.Context, keys []string) ([]int64, error)

	// Del deletes key and reports whether it previously existed.
	Del(ctx context.Context, key string) (bool, error)

	// Ping verifies the shard is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the client.
	Close() error
}

// RedisClient implements Client against a single Redis node.
type RedisClient struct {
	addr   string
	client *redis.Client
}

// New creates a RedisClient for the given shard URL (a redis:// URL), with
// bounded in-flight concurrency via poolSize and a per-call socket timeout.
func New(shardURL string, poolSize int, timeout time.Duration) (*RedisClient, error) {
	opts, err := redis.ParseURL(shardURL)
	if err != nil {
		return nil, fmt.Errorf("shardclient: invalid shard url %q: %w", shardURL, err)
	}
	if poolSize > 0 {
		opts.PoolSize = poolSize
	}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}

	return &RedisClient{
		addr:   shardURL,
		client: redis.NewClient(opts),
	}, nil
}

// Incr implements Client.
func (c *RedisClient) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	return c.client.IncrBy(ctx, key, delta).Result()
}

// Get implements Client.
func (c *RedisClient) Get(ctx context.Context, key string) (int64, error) {
	v, err := c.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

// MGet implements Client.
func (c *RedisClient) MGet(ctx context.Context, keys []string) ([]int64, error) {
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]int64, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			var n int64
			_, scanErr := fmt.Sscanf(t, "%d", &n)
			if scanErr == nil {
				out[i] = n
			}
		case int64:
			out[i] = t
		}
	}
	return out, nil
}

// Del implements Client.
func (c *RedisClient) Del(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Del(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Ping implements Client.
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close implements Client.
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// Addr returns the shard URL this client was constructed from.
func (c *RedisClient) Addr() string {
	return c.addr
}
