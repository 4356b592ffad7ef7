// Package cachemanager provides a generic TTL cache abstraction with an
// in-process go-cache backend and a shared redis backend, plus a read-through
// wrapper that only stores successful loads.
package cachemanager

import (
	"context"
	"time"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type CacheManager[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	GetMultiple(ctx context.Context, keys []K) (map[K]V, bool)
	GetWithRefresh(ctx context.Context, key K, ttl time.Duration) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K) error
	Flush(ctx context.Context) error
	// Len counts unexpired entries.
	Len(ctx context.Context) int
	Backend() string
}
