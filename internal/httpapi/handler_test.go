package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/protoreg/internal/catalog"
	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/store"
	"github.com/zjrosen/protoreg/internal/testutil"
)

func newTestHandler(t *testing.T) (*Handler, *store.Resolver) {
	t.Helper()
	dir := testutil.NewBuilder(t).
		WithCycleTestData().
		WriteDir(t.TempDir())

	r := store.NewResolver(store.NewFileSource(dir))
	h := NewHandler(HandlerConfig{
		Resolver: r,
		Catalog: func(ctx context.Context) (*catalog.Catalog, error) {
			res, err := catalog.LoadGlob(ctx, dir+"/**/*.json")
			if err != nil {
				return nil, err
			}
			return res.Catalog, nil
		},
	})
	return h, r
}

func serve(h *Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestHandler_ResolveFragment(t *testing.T) {
	h, _ := newTestHandler(t)

	w := serve(h, http.MethodGet, "/resolve?urn="+
		"urn:proto:data:user_events@v1.1.1%23schema.fields.email", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(RequestIDHeader))

	resp := decode[map[string]any](t, w)
	require.Equal(t, true, resp["success"])
	require.Equal(t, map[string]any{"type": "string", "required": false, "pii": true}, resp["resolvedData"])
	require.Equal(t, false, resp["cached"])
}

func TestHandler_ResolveStatusCodes(t *testing.T) {
	h, _ := newTestHandler(t)

	tests := []struct {
		name   string
		target string
		status int
		code   store.ErrorCode
	}{
		{"bad format", "/resolve?urn=not-a-urn", http.StatusBadRequest, store.CodeInvalidURNFormat},
		{"missing", "/resolve?urn=urn:proto:data:nope@1.0.0", http.StatusNotFound, store.CodeManifestNotFound},
		{"fragment", "/resolve?urn=urn:proto:data:user_events@1.1.1%23schema.nope", http.StatusNotFound, store.CodeFragmentNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(h, http.MethodGet, tt.target, nil)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			res := decode[store.Result](t, w)
			require.False(t, res.Success)
			require.Equal(t, tt.code, res.Code())
		})
	}

	w := serve(h, http.MethodGet, "/resolve", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "MISSING_PARAMETER", decode[ErrorResponse](t, w).Code)
}

func TestStatusFor(t *testing.T) {
	tests := map[store.ErrorCode]int{
		"":                            http.StatusOK,
		store.CodeInvalidURNFormat:    http.StatusBadRequest,
		store.CodeManifestNotFound:    http.StatusNotFound,
		store.CodeFragmentNotFound:    http.StatusNotFound,
		store.CodeVersionIncompatible: http.StatusConflict,
		store.CodeManifestParseError:  http.StatusUnprocessableEntity,
		store.CodeSourceUnavailable:   http.StatusServiceUnavailable,
	}
	for code, want := range tests {
		res := &store.Result{Success: code == ""}
		if code != "" {
			res.Error = &store.ResolveError{Code: code}
		}
		require.Equal(t, want, statusFor(res), code)
	}
}

func TestHandler_RequestIDPropagated(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/resolve", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	require.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
	require.Equal(t, "req-42", decode[ErrorResponse](t, w).RequestID)
}

func TestHandler_BatchResolve(t *testing.T) {
	h, _ := newTestHandler(t)

	w := serve(h, http.MethodGet,
		"/resolve/batch?urns=urn:proto:data:user_events@1.1.1,bogus&urns=urn:proto:api:user_api", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[BatchResponse](t, w)
	require.Equal(t, 3, resp.Total)
	require.Equal(t, 2, resp.Succeeded)
	require.True(t, resp.Results[0].Success)
	require.Equal(t, store.CodeInvalidURNFormat, resp.Results[1].Code())
	require.True(t, resp.Results[2].Success)

	w = serve(h, http.MethodGet, "/resolve/batch?urns=,", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CacheLifecycle(t *testing.T) {
	h, _ := newTestHandler(t)
	target := "/resolve?urn=urn:proto:data:user_events@1.1.1"

	require.Equal(t, http.StatusOK, serve(h, http.MethodGet, target, nil).Code)
	second := decode[store.Result](t, serve(h, http.MethodGet, target, nil))
	require.True(t, second.Cached)

	bypass := decode[store.Result](t, serve(h, http.MethodGet, target+"&skipCache=true", nil))
	require.False(t, bypass.Cached)

	stats := decode[store.CacheStats](t, serve(h, http.MethodGet, "/cache/stats", nil))
	require.Equal(t, 1, stats.Size)
	require.Equal(t, 300, stats.TTLSeconds)
	require.EqualValues(t, 1, stats.Hits)

	require.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/cache/clear", nil).Code)
	stats = decode[store.CacheStats](t, serve(h, http.MethodGet, "/cache/stats", nil))
	require.Zero(t, stats.Size)

	require.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/cache/clear", nil).Code)
}

func TestHandler_ValidateAndHealth(t *testing.T) {
	h, _ := newTestHandler(t)

	v := decode[store.Validation](t, serve(h, http.MethodGet, "/validate?urn=urn:proto:data:user_events@1.1.1", nil))
	require.True(t, v.Valid)
	require.True(t, v.Exists)
	require.True(t, v.Compatible)

	health := decode[HealthResponse](t, serve(h, http.MethodGet, "/health", nil))
	require.Equal(t, "ok", health.Status)
	require.Equal(t, "file", health.Source)
}

func TestHandler_Diff(t *testing.T) {
	h, _ := newTestHandler(t)

	base := manifest.MustNew(testutil.UserEvents("1.1.1"))
	head, err := base.With("schema.fields.email.required", true)
	require.NoError(t, err)

	body, err := json.Marshal(DiffRequest{Base: base, Head: head, Unified: true})
	require.NoError(t, err)

	w := serve(h, http.MethodPost, "/diff", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[DiffResponse](t, w)
	require.Len(t, resp.Diff.Changes, 1)
	require.Equal(t, "schema.fields.email.required", resp.Diff.Changes[0].Path)
	require.Len(t, resp.Diff.Breaking, 1)
	require.Contains(t, resp.Migration.Steps, "-- email: required false -> true")
	require.Contains(t, resp.Unified, `"required": true`)

	w = serve(h, http.MethodPost, "/diff", []byte(`{"base": {"dataset": {"name": "x"}}}`))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(h, http.MethodPost, "/diff", []byte(`not json`))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "INVALID_BODY", decode[ErrorResponse](t, w).Code)
}

func TestHandler_CatalogReport(t *testing.T) {
	h, _ := newTestHandler(t)

	w := serve(h, http.MethodGet, "/catalog/report", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[catalog.Report](t, w)
	require.Equal(t, 3, report.Total)
	require.NotEmpty(t, report.Validation.CrossEntityValidation.Cycles)

	w = serve(h, http.MethodGet, "/catalog/report?format=markdown", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/markdown"))

	w = serve(h, http.MethodGet, "/catalog/report?format=xml", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_CatalogReportErrors(t *testing.T) {
	_, r := newTestHandler(t)

	h := NewHandler(HandlerConfig{Resolver: r})
	require.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/catalog/report", nil).Code)

	h = NewHandler(HandlerConfig{Resolver: r, Catalog: func(context.Context) (*catalog.Catalog, error) {
		return nil, errors.New("disk gone")
	}})
	w := serve(h, http.MethodGet, "/catalog/report", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, "CATALOG_UNAVAILABLE", decode[ErrorResponse](t, w).Code)
}

func TestServer_StartStop(t *testing.T) {
	_, r := newTestHandler(t)

	srv, err := NewServer(ServerConfig{Addr: "127.0.0.1:0", Handler: HandlerConfig{Resolver: r}})
	require.NoError(t, err)
	require.NotZero(t, srv.Port())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	resp, err := http.Get("http://" + srv.Addr() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, srv.Stop(context.Background()))
	require.NoError(t, <-errCh)
}
