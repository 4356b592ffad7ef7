package cachemanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zjrosen/protoreg/internal/log"
)

var _ CacheManager[string, int] = (*RedisCacheManager[string, int])(nil)

// RedisOptions configures a RedisCacheManager.
type RedisOptions struct {
	// URL is the connection string, e.g. "redis://localhost:6379/0".
	URL string
	// Prefix namespaces every key; Flush and Len only touch prefixed keys.
	Prefix string
	// DefaultExpiration applies when Set is called with a zero ttl.
	DefaultExpiration time.Duration
	// ConnectTimeout bounds the initial ping.
	ConnectTimeout time.Duration
}

// RedisCacheManager stores JSON-encoded values in redis so several resolver
// processes can share one cache. Expiry is enforced by redis key TTLs.
type RedisCacheManager[K ~string, V any] struct {
	client     *redis.Client
	prefix     string
	defaultTTL time.Duration
}

// NewRedisCacheManager connects to redis and verifies the connection.
func NewRedisCacheManager[K ~string, V any](opts RedisOptions) (*RedisCacheManager[K, V], error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.DefaultExpiration == 0 {
		opts.DefaultExpiration = DefaultExpiration
	}
	if opts.Prefix == "" {
		opts.Prefix = "protoreg:"
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCacheManager[K, V]{client: client, prefix: opts.Prefix, defaultTTL: opts.DefaultExpiration}, nil
}

func (c *RedisCacheManager[K, V]) key(k K) string { return c.prefix + string(k) }

func (c *RedisCacheManager[K, V]) decode(key string, raw string) (V, bool) {
	var v V
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		log.Error(log.CatCache, "failed to decode cached value", "key", key, "error", err)
		return v, false
	}
	return v, true
}

// Get retrieves and decodes the value stored under key.
func (c *RedisCacheManager[K, V]) Get(ctx context.Context, key K) (V, bool) {
	var zero V
	raw, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn(log.CatCache, "redis get failed", "key", key, "error", err)
		}
		return zero, false
	}
	return c.decode(string(key), raw)
}

// GetMultiple fetches keys with a single MGET.
func (c *RedisCacheManager[K, V]) GetMultiple(ctx context.Context, keys []K) (map[K]V, bool) {
	if len(keys) == 0 {
		return nil, false
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	raws, err := c.client.MGet(ctx, full...).Result()
	if err != nil {
		log.Warn(log.CatCache, "redis mget failed", "error", err)
		return nil, false
	}

	values := make(map[K]V, len(keys))
	for i, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if v, ok := c.decode(string(keys[i]), s); ok {
			values[keys[i]] = v
		}
	}
	if len(values) == 0 {
		return nil, false
	}
	return values, true
}

// GetWithRefresh reads key and resets its TTL in one GETEX.
func (c *RedisCacheManager[K, V]) GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool) {
	var zero V
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	raw, err := c.client.GetEx(ctx, c.key(key), ttl).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn(log.CatCache, "redis getex failed", "key", key, "error", err)
		}
		return zero, false
	}
	return c.decode(string(key), raw)
}

// Set stores value JSON-encoded with ttl. Encoding or network failures are
// logged; the cache is best effort.
func (c *RedisCacheManager[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		log.Error(log.CatCache, "failed to encode value", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.key(key), data, ttl).Err(); err != nil {
		log.Warn(log.CatCache, "redis set failed", "key", key, "error", err)
	}
}

// Delete removes keys.
func (c *RedisCacheManager[K, V]) Delete(ctx context.Context, keys ...K) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Flush removes every key under the prefix.
func (c *RedisCacheManager[K, V]) Flush(ctx context.Context) error {
	keys, err := c.scan(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis flush: %w", err)
	}
	return nil
}

// Len counts keys under the prefix.
func (c *RedisCacheManager[K, V]) Len(ctx context.Context) int {
	keys, err := c.scan(ctx)
	if err != nil {
		log.Warn(log.CatCache, "redis scan failed", "error", err)
		return 0
	}
	return len(keys)
}

func (c *RedisCacheManager[K, V]) scan(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	pattern := strings.NewReplacer("*", `\*`, "?", `\?`, "[", `\[`).Replace(c.prefix) + "*"
	for {
		batch, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (c *RedisCacheManager[K, V]) Backend() string { return BackendRedis }

// Close releases the redis connection pool.
func (c *RedisCacheManager[K, V]) Close() error {
	return c.client.Close()
}
