package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zjrosen/protoreg/internal/cachemanager"
	"github.com/zjrosen/protoreg/internal/catalog"
	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/store"
	"github.com/zjrosen/protoreg/internal/urn"
)

// source returns the configured manifest source: etcd when endpoints are
// set, otherwise the manifest directory. With etcd configured, an existing
// manifest directory still answers for manifests etcd does not hold.
func (c *cli) source(ctx context.Context) (store.Source, error) {
	if len(c.cfg.Etcd.Endpoints) == 0 {
		return store.NewFileSource(c.cfg.ManifestDir), nil
	}
	src, err := store.NewEtcdSource(ctx, c.cfg.Etcd)
	if err != nil {
		return nil, fmt.Errorf("connecting to etcd: %w", err)
	}
	c.cleanups = append(c.cleanups, func() { _ = src.Close() })
	return withDirFallback(src, c.cfg.ManifestDir), nil
}

func withDirFallback(primary store.Source, dir string) store.Source {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return primary
	}
	return store.FirstOf{primary, store.NewFileSource(dir)}
}

// resolver builds a resolver over the configured source and cache.
func (c *cli) resolver(ctx context.Context) (*store.Resolver, error) {
	src, err := c.source(ctx)
	if err != nil {
		return nil, err
	}

	opts := []store.ResolverOption{
		store.WithTimeout(c.cfg.Resolver.Timeout),
		store.WithBatchConcurrency(c.cfg.Resolver.BatchConcurrency),
	}

	cc := c.cfg.Cache
	switch {
	case !cc.Enabled:
		opts = append(opts, store.WithoutCache())
	case cc.Backend == cachemanager.BackendRedis:
		rc, err := cachemanager.NewRedisCacheManager[string, *store.Result](cachemanager.RedisOptions{
			URL:               cc.RedisURL,
			DefaultExpiration: cc.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("connecting to redis cache: %w", err)
		}
		c.cleanups = append(c.cleanups, func() { _ = rc.Close() })
		opts = append(opts, store.WithCache(rc), store.WithTTL(cc.TTL))
	default:
		mc := cachemanager.NewInMemoryCacheManager[string, *store.Result]("resolver", cc.TTL, cc.CleanupInterval)
		opts = append(opts, store.WithCache(mc), store.WithTTL(cc.TTL))
	}

	log.Debug(log.CatResolve, "resolver ready", "source", src.Name(), "cache", cc.Backend, "enabled", cc.Enabled)
	return store.NewResolver(src, opts...), nil
}

// catalog loads patterns, or every manifest under the manifest directory
// when none are given.
func (c *cli) catalog(ctx context.Context, patterns []string) (catalog.LoadResult, error) {
	if len(patterns) == 0 {
		patterns = []string{filepath.Join(c.cfg.ManifestDir, "**", "*")}
	}
	res, err := catalog.LoadGlob(ctx, patterns...)
	if err != nil {
		return res, err
	}
	for _, le := range res.Errors {
		log.Warn(log.CatCatalog, "skipped manifest", "path", le.Path, "error", le.Err)
	}
	return res, nil
}

// manifestArg loads a manifest from a URN (through r) or a file path.
func manifestArg(ctx context.Context, r *store.Resolver, arg string) (*manifest.Manifest, error) {
	if !urn.IsURN(arg) {
		m, err := store.LoadFile(ctx, arg)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", arg, err)
		}
		return m, nil
	}
	res := r.Resolve(ctx, arg, store.Options{})
	if !res.Success {
		return nil, fmt.Errorf("resolving %s: %w", arg, res.Error)
	}
	if res.Parsed != nil && res.Parsed.Fragment != "" {
		return nil, fmt.Errorf("resolving %s: a fragment is not a manifest", arg)
	}
	return res.Manifest, nil
}
