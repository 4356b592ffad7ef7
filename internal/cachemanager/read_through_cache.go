package cachemanager

import (
	"context"
	"time"
)

// ReadThroughCache serves values from cache and falls back to fn on a miss.
// Only loads that return a nil error are stored.
type ReadThroughCache[K comparable, V any, I any] struct {
	cache           CacheManager[K, V]
	fn              func(ctx context.Context, input I) (V, error)
	shouldSkipCache bool
}

func NewReadThroughCache[K comparable, V any, I any](
	cache CacheManager[K, V],
	fn func(ctx context.Context, input I) (V, error),
	shouldSkipCache bool,
) *ReadThroughCache[K, V, I] {
	return &ReadThroughCache[K, V, I]{
		cache:           cache,
		fn:              fn,
		shouldSkipCache: shouldSkipCache,
	}
}

// Cache returns the underlying cache manager.
func (r *ReadThroughCache[K, V, I]) Cache() CacheManager[K, V] {
	return r.cache
}

// Get returns the cached value for key, or loads it with fn. The boolean
// reports a cache hit. A failed load returns fn's value and error unchanged.
func (r *ReadThroughCache[K, V, I]) Get(ctx context.Context, key K, input I, ttl time.Duration) (V, bool, error) {
	if r.shouldSkipCache {
		value, err := r.fn(ctx, input)
		return value, false, err
	}

	if value, ok := r.cache.Get(ctx, key); ok {
		return value, true, nil
	}

	value, err := r.fn(ctx, input)
	if err != nil {
		return value, false, err
	}

	r.cache.Set(ctx, key, value, ttl)

	return value, false, nil
}

// GetWithRefresh is Get, except a hit also extends the entry's ttl.
func (r *ReadThroughCache[K, V, I]) GetWithRefresh(ctx context.Context, key K, input I, ttl time.Duration) (V, bool, error) {
	if r.shouldSkipCache {
		value, err := r.fn(ctx, input)
		return value, false, err
	}

	if value, ok := r.cache.GetWithRefresh(ctx, key, ttl); ok {
		return value, true, nil
	}

	value, err := r.fn(ctx, input)
	if err != nil {
		return value, false, err
	}

	r.cache.Set(ctx, key, value, ttl)

	return value, false, nil
}
