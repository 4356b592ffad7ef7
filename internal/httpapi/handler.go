// Package httpapi exposes the resolver, differ and catalog reports over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/protoreg/internal/catalog"
	"github.com/zjrosen/protoreg/internal/diff"
	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/store"
	"github.com/zjrosen/protoreg/internal/tracing"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 4 << 20

// CatalogLoader returns the current catalog for report requests.
type CatalogLoader func(ctx context.Context) (*catalog.Catalog, error)

// Handler serves the resolver API.
type Handler struct {
	resolver        *store.Resolver
	loadCatalog     CatalogLoader
	validateOptions catalog.ValidateOptions
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	// Resolver answers /resolve and /cache requests (required).
	Resolver *store.Resolver
	// Catalog supplies /catalog/report. If nil, the route answers 404.
	Catalog         CatalogLoader
	ValidateOptions catalog.ValidateOptions
}

// NewHandler creates a handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		resolver:        cfg.Resolver,
		loadCatalog:     cfg.Catalog,
		validateOptions: cfg.ValidateOptions,
	}
}

// Routes returns an http.Handler with all API routes registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, observe, middleware.Recoverer)

	r.Get("/health", h.Health)

	r.Get("/resolve", h.Resolve)
	r.Get("/resolve/batch", h.BatchResolve)
	r.Get("/validate", h.ValidateURN)

	r.Route("/cache", func(cr chi.Router) {
		cr.Get("/stats", h.CacheStats)
		cr.Get("/clear", h.ClearCache)
		cr.Post("/clear", h.ClearCache)
	})

	r.Post("/diff", h.Diff)
	r.Get("/catalog/report", h.CatalogReport)

	return r
}

// === Request/Response Types ===

// ErrorResponse is the response body for errors that are not resolution
// results.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// HealthResponse is the response body for /health.
type HealthResponse struct {
	Status string           `json:"status"`
	Source string           `json:"source"`
	Cache  store.CacheStats `json:"cache"`
}

// BatchResponse is the response body for /resolve/batch.
type BatchResponse struct {
	Results   []*store.Result `json:"results"`
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
}

// DiffRequest is the request body for POST /diff.
type DiffRequest struct {
	Base *manifest.Manifest `json:"base"`
	Head *manifest.Manifest `json:"head"`
	// Unified adds a line diff of the two documents to the response.
	Unified bool `json:"unified,omitempty"`
}

// DiffResponse is the response body for POST /diff.
type DiffResponse struct {
	Diff      diff.Result        `json:"diff"`
	Migration diff.MigrationPlan `json:"migration"`
	Unified   string             `json:"unified,omitempty"`
}

// === Handlers ===

// Resolve handles GET /resolve?urn=...&skipCache=true.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("urn"))
	if raw == "" {
		h.writeError(w, r, http.StatusBadRequest, "MISSING_PARAMETER", "urn query parameter is required")
		return
	}
	res := h.resolver.Resolve(r.Context(), raw, resolveOptions(r))
	h.writeJSON(w, statusFor(res), res)
}

// BatchResolve handles GET /resolve/batch?urns=a,b,c. Individual failures are
// reported per result; the response itself is 200.
func (h *Handler) BatchResolve(w http.ResponseWriter, r *http.Request) {
	urns := splitList(r.URL.Query()["urns"])
	if len(urns) == 0 {
		h.writeError(w, r, http.StatusBadRequest, "MISSING_PARAMETER", "urns query parameter is required")
		return
	}
	results := h.resolver.BatchResolve(r.Context(), urns, resolveOptions(r))

	resp := BatchResponse{Results: results, Total: len(results)}
	for _, res := range results {
		if res.Success {
			resp.Succeeded++
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// ValidateURN handles GET /validate?urn=....
func (h *Handler) ValidateURN(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("urn"))
	if raw == "" {
		h.writeError(w, r, http.StatusBadRequest, "MISSING_PARAMETER", "urn query parameter is required")
		return
	}
	h.writeJSON(w, http.StatusOK, h.resolver.ValidateURN(r.Context(), raw, resolveOptions(r)))
}

// CacheStats handles GET /cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.resolver.CacheStats(r.Context()))
}

// ClearCache handles GET|POST /cache/clear.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if err := h.resolver.ClearCache(r.Context()); err != nil {
		log.ErrorErr(log.CatHTTP, "Failed to clear cache", err, "request_id", RequestIDFrom(r.Context()))
		h.writeError(w, r, http.StatusInternalServerError, "CACHE_ERROR", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Source: h.resolver.Source().Name(),
		Cache:  h.resolver.CacheStats(r.Context()),
	})
}

// Diff handles POST /diff.
func (h *Handler) Diff(w http.ResponseWriter, r *http.Request) {
	var req DiffRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if req.Base == nil || req.Head == nil {
		h.writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "base and head manifests are required")
		return
	}

	_, span := tracing.Start(r.Context(), tracing.SpanDiff)
	res := diff.Manifests(req.Base, req.Head)
	span.SetAttributes(attribute.Int(tracing.AttrChangeCount, len(res.Changes)))
	span.End()

	resp := DiffResponse{Diff: res, Migration: diff.PlanFor(res)}
	if req.Unified {
		resp.Unified = diff.Unified(req.Base, req.Head)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// CatalogReport handles GET /catalog/report?format=json|markdown.
func (h *Handler) CatalogReport(w http.ResponseWriter, r *http.Request) {
	if h.loadCatalog == nil {
		h.writeError(w, r, http.StatusNotFound, "NO_CATALOG", "catalog reports are not enabled")
		return
	}
	c, err := h.loadCatalog(r.Context())
	if err != nil {
		log.ErrorErr(log.CatHTTP, "Failed to load catalog", err, "request_id", RequestIDFrom(r.Context()))
		h.writeError(w, r, http.StatusServiceUnavailable, "CATALOG_UNAVAILABLE", err.Error())
		return
	}
	report := c.Report(r.Context(), h.validateOptions)

	switch r.URL.Query().Get("format") {
	case "", "json":
		h.writeJSON(w, http.StatusOK, report)
	case "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(report.Markdown()))
	default:
		h.writeError(w, r, http.StatusBadRequest, "INVALID_FORMAT", "format must be json or markdown")
	}
}

// === Helpers ===

// statusFor maps a resolution result to an HTTP status.
func statusFor(res *store.Result) int {
	switch res.Code() {
	case "":
		return http.StatusOK
	case store.CodeInvalidURNFormat:
		return http.StatusBadRequest
	case store.CodeManifestNotFound, store.CodeFragmentNotFound:
		return http.StatusNotFound
	case store.CodeVersionIncompatible:
		return http.StatusConflict
	case store.CodeManifestParseError:
		return http.StatusUnprocessableEntity
	case store.CodeSourceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func resolveOptions(r *http.Request) store.Options {
	var opts store.Options
	q := r.URL.Query()
	if v, err := strconv.ParseBool(q.Get("skipCache")); err == nil {
		opts.SkipCache = v
	}
	if d, err := time.ParseDuration(q.Get("timeout")); err == nil && d > 0 {
		opts.Timeout = d
	}
	return opts
}

// splitList accepts both ?urns=a,b and repeated ?urns=a&urns=b.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error(log.CatHTTP, "Failed to encode JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: RequestIDFrom(r.Context()),
	})
}

// === Middleware ===

type ctxKey struct{}

// RequestIDFrom returns the request id stored by the middleware, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// requestID honours an incoming X-Request-ID or assigns a new one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// observe opens a span per request and writes one log line when it ends.
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := tracing.Start(r.Context(), tracing.SpanHTTPPrefix+r.Method,
			attribute.String(tracing.AttrRequestID, RequestIDFrom(r.Context())),
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if rctx := chi.RouteContext(ctx); rctx != nil && rctx.RoutePattern() != "" {
			span.SetName(tracing.SpanHTTPPrefix + r.Method + " " + rctx.RoutePattern())
		}
		span.SetAttributes(attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			tracing.Fail(span, errors.New(http.StatusText(status)))
		}

		log.Debug(log.CatHTTP, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"request_id", RequestIDFrom(ctx))
	})
}
