package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrURN          = "protoreg.urn"
	AttrProtocolType = "protoreg.protocol_type"
	AttrEntityID     = "protoreg.entity_id"
	AttrVersion      = "protoreg.version"
	AttrFragment     = "protoreg.fragment"
	AttrCacheHit     = "protoreg.cache.hit"
	AttrSource       = "protoreg.source"
	AttrErrorCode    = "protoreg.error.code"
	AttrBatchSize    = "protoreg.batch.size"
	AttrCatalogSize  = "protoreg.catalog.size"
	AttrCycleCount   = "protoreg.catalog.cycles"
	AttrChangeCount  = "protoreg.diff.changes"
	AttrRequestID    = "http.request_id"
	AttrMCPToolName  = "mcp.tool.name"
)

// Span names.
const (
	SpanResolve       = "store.resolve"
	SpanBatchResolve  = "store.batch_resolve"
	SpanSourceLoad    = "store.source.load"
	SpanCatalogCycles = "catalog.detect_cycles"
	SpanCatalogReport = "catalog.validate"
	SpanDiff          = "diff.compare"
	SpanHTTPPrefix    = "http."
	SpanMCPPrefix     = "mcp.tool."
)

// Start opens a span on the global tracer.
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(InstrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// Fail records err on span and marks it failed. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// FailCode marks span failed with a domain error code and message, for
// failures that are reported as results rather than Go errors.
func FailCode(span trace.Span, code, message string) {
	span.SetAttributes(attribute.String(AttrErrorCode, code))
	span.SetStatus(codes.Error, message)
}
