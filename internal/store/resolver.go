package store

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/iter"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/protoreg/internal/cachemanager"
	"github.com/zjrosen/protoreg/internal/canon"
	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/tracing"
	"github.com/zjrosen/protoreg/internal/urn"
)

const (
	DefaultCacheTTL         = 5 * time.Minute
	DefaultBatchConcurrency = 8
)

// Options tune a single resolution. They take part in the cache key.
type Options struct {
	// SkipCache bypasses the cache for both lookup and store.
	SkipCache bool `json:"skipCache,omitempty"`
	// Timeout bounds the source read. Zero uses the resolver default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

type request struct {
	urn  urn.URN
	opts Options
}

// Resolver turns URNs into manifests or fragments of them.
type Resolver struct {
	source      Source
	cache       *cachemanager.ReadThroughCache[string, *Result, request]
	ttl         time.Duration
	timeout     time.Duration
	concurrency int

	hits   atomic.Int64
	misses atomic.Int64
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithCache replaces the default in-memory cache.
func WithCache(cm cachemanager.CacheManager[string, *Result]) ResolverOption {
	return func(r *Resolver) {
		r.cache = cachemanager.NewReadThroughCache(cm, r.load, false)
	}
}

// WithoutCache disables caching entirely.
func WithoutCache() ResolverOption {
	return func(r *Resolver) { r.cache = nil }
}

// WithTTL sets how long successful results stay cached.
func WithTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithTimeout sets the default per-resolution timeout.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = d }
}

// WithBatchConcurrency bounds the goroutines BatchResolve uses.
func WithBatchConcurrency(n int) ResolverOption {
	return func(r *Resolver) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewResolver builds a resolver over source. Without WithCache it caches in
// process with go-cache.
func NewResolver(source Source, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		source:      source,
		ttl:         DefaultCacheTTL,
		concurrency: DefaultBatchConcurrency,
	}
	r.cache = cachemanager.NewReadThroughCache[string, *Result, request](
		cachemanager.NewInMemoryCacheManager[string, *Result]("resolver", DefaultCacheTTL, 10*time.Minute),
		r.load,
		false,
	)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Source returns the backing source.
func (r *Resolver) Source() Source { return r.source }

func cacheKey(u urn.URN, opts Options) string {
	// SkipCache never reaches the cache, so it stays out of the key.
	opts.SkipCache = false
	return u.String() + "|" + canon.Canonicalize(opts)
}

// Resolve resolves raw to a manifest, or to the value at its fragment.
func (r *Resolver) Resolve(ctx context.Context, raw string, opts Options) *Result {
	ctx, span := tracing.Start(ctx, tracing.SpanResolve, attribute.String(tracing.AttrURN, raw))
	defer span.End()

	u, err := urn.Parse(raw)
	if err != nil {
		res := failure(nil, CodeInvalidURNFormat, err.Error())
		tracing.FailCode(span, string(res.Error.Code), res.Error.Message)
		log.Debug(log.CatResolve, "invalid urn", "urn", raw)
		return res
	}
	span.SetAttributes(
		attribute.String(tracing.AttrProtocolType, string(u.Type)),
		attribute.String(tracing.AttrEntityID, u.ID),
		attribute.String(tracing.AttrVersion, u.Version),
		attribute.String(tracing.AttrFragment, u.Fragment),
	)

	req := request{urn: *u, opts: opts}
	var (
		res *Result
		hit bool
	)
	if r.cache == nil || opts.SkipCache {
		res, _ = r.load(ctx, req)
	} else {
		res, hit, _ = r.cache.Get(ctx, cacheKey(*u, opts), req, r.ttl)
		if hit {
			r.hits.Add(1)
		} else {
			r.misses.Add(1)
		}
	}
	span.SetAttributes(attribute.Bool(tracing.AttrCacheHit, hit))

	if res.Error != nil {
		tracing.FailCode(span, string(res.Error.Code), res.Error.Message)
		log.Debug(log.CatResolve, "resolve failed", "urn", raw, "code", res.Error.Code, "msg", res.Error.Message)
		return res
	}

	// Cached results are shared, so callers get their own envelope and data.
	out := *res
	out.Cached = hit
	out.ResolvedData = canon.Clone(res.ResolvedData)
	if hit {
		log.Debug(log.CatResolve, "cache hit", "urn", raw)
	}
	return &out
}

// load is the uncached resolution path. It returns a non-nil error alongside
// every failed Result so the read-through cache never stores failures.
func (r *Resolver) load(ctx context.Context, req request) (*Result, error) {
	u := req.urn
	parsed := u

	timeout := req.opts.Timeout
	if timeout == 0 {
		timeout = r.timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	loadCtx, span := tracing.Start(ctx, tracing.SpanSourceLoad,
		attribute.String(tracing.AttrSource, r.source.Name()),
		attribute.String(tracing.AttrURN, u.String()),
	)
	m, err := r.source.Load(loadCtx, u)
	if err != nil {
		tracing.Fail(span, err)
	}
	span.End()

	if err != nil {
		var perr *ParseError
		var res *Result
		switch {
		case errors.Is(err, ErrNotFound):
			res = failure(&parsed, CodeManifestNotFound, fmt.Sprintf("no manifest for %s", u.Base()))
		case errors.As(err, &perr):
			res = failure(&parsed, CodeManifestParseError, perr.Error())
		default:
			res = failure(&parsed, CodeSourceUnavailable, err.Error())
			log.ErrorErr(log.CatResolve, "source load failed", err, "urn", u.String(), "source", r.source.Name())
		}
		return res, res.Error
	}

	res := &Result{Parsed: &parsed, Source: r.source.Name()}

	if !u.IsLatest() {
		compat := urn.CheckCompatibility(urn.StripV(u.Version), urn.StripV(m.Version()))
		res.Compatibility = &compat
		if !compat.Compatible {
			res.Manifest = m
			res.Error = &ResolveError{
				Code:    CodeVersionIncompatible,
				Message: fmt.Sprintf("requested %s, found %s: %s", u.Version, m.Version(), compat.Reason),
			}
			return res, res.Error
		}
	} else {
		res.Compatibility = &urn.Compatibility{Compatible: true}
	}

	res.Manifest = m
	if u.Fragment == "" {
		res.ResolvedData = m.Body()
		res.Success = true
		return res, nil
	}

	path, err := canon.ParsePath(u.Fragment)
	if err != nil {
		res.Error = &ResolveError{Code: CodeFragmentNotFound, Message: err.Error()}
		return res, res.Error
	}
	value, ok := m.GetPath(path)
	if !ok {
		res.Error = &ResolveError{
			Code:    CodeFragmentNotFound,
			Message: fmt.Sprintf("fragment %q not found in %s", u.Fragment, m.URN()),
		}
		return res, res.Error
	}
	res.ResolvedData = value
	res.Success = true
	return res, nil
}

// ValidateURN reports whether raw parses, names an existing manifest and is
// version compatible with it.
func (r *Resolver) ValidateURN(ctx context.Context, raw string, opts Options) Validation {
	res := r.Resolve(ctx, raw, opts)
	v := Validation{Error: res.Error}
	if res.Code() == CodeInvalidURNFormat {
		return v
	}
	v.Valid = true
	v.Exists = res.Manifest != nil
	v.Compatible = res.Compatibility != nil && res.Compatibility.Compatible
	return v
}

// BatchResolve resolves urns concurrently. Results keep input order and one
// failure never affects the others.
func (r *Resolver) BatchResolve(ctx context.Context, urns []string, opts Options) []*Result {
	ctx, span := tracing.Start(ctx, tracing.SpanBatchResolve, attribute.Int(tracing.AttrBatchSize, len(urns)))
	defer span.End()

	mapper := iter.Mapper[string, *Result]{MaxGoroutines: r.concurrency}
	return mapper.Map(urns, func(raw *string) *Result {
		return r.Resolve(ctx, *raw, opts)
	})
}

// ClearCache drops every cached result.
func (r *Resolver) ClearCache(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	if err := r.cache.Cache().Flush(ctx); err != nil {
		return fmt.Errorf("clear resolver cache: %w", err)
	}
	log.Info(log.CatCache, "resolver cache cleared")
	return nil
}

// CacheStats reports cache size and effectiveness.
func (r *Resolver) CacheStats(ctx context.Context) CacheStats {
	stats := CacheStats{
		TTLSeconds: int(r.ttl / time.Second),
		Backend:    "none",
		Hits:       r.hits.Load(),
		Misses:     r.misses.Load(),
	}
	if r.cache != nil {
		stats.Size = r.cache.Cache().Len(ctx)
		stats.Backend = r.cache.Cache().Backend()
	}
	return stats
}
