// Package mcptools exposes resolution, diffing and catalog validation as MCP
// tools.
//
// Each tool follows the same shape: dependencies injected via constructor,
// Definition returns the mcp.Tool schema, Handle processes a call. Domain
// failures come back as tool error results, never as Go errors.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/protoreg/internal/catalog"
	"github.com/zjrosen/protoreg/internal/diff"
	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/store"
	"github.com/zjrosen/protoreg/internal/tracing"
	"github.com/zjrosen/protoreg/internal/urn"
)

// Tool names.
const (
	ToolResolveURN      = "resolve_urn"
	ToolDiffManifests   = "diff_manifests"
	ToolValidateCatalog = "validate_catalog"
)

// CatalogLoader builds a catalog from glob patterns. An empty list means the
// configured manifest tree.
type CatalogLoader func(ctx context.Context, patterns []string) (*catalog.Catalog, error)

// ResolveTool handles the resolve_urn tool.
type ResolveTool struct {
	resolver *store.Resolver
}

// NewResolveTool creates a ResolveTool.
func NewResolveTool(r *store.Resolver) *ResolveTool {
	return &ResolveTool{resolver: r}
}

// Definition returns the MCP tool definition for resolve_urn.
func (t *ResolveTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolResolveURN,
		mcp.WithDescription(
			"Resolve a protocol manifest URN (urn:proto:<type>:<id>[@version][#fragment]) to its manifest "+
				"or to the fragment it addresses. Returns the resolution result as JSON.",
		),
		mcp.WithString("urn",
			mcp.Required(),
			mcp.Description("URN to resolve, e.g. urn:proto:data:user_events@1.1.1#schema.fields.email"),
		),
		mcp.WithBoolean("skip_cache",
			mcp.Description("Bypass the resolution cache (default: false)"),
		),
	)
}

// Handle processes the resolve_urn tool call.
func (t *ResolveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracing.Start(ctx, tracing.SpanMCPPrefix+ToolResolveURN,
		attribute.String(tracing.AttrMCPToolName, ToolResolveURN))
	defer span.End()

	raw := strings.TrimSpace(req.GetString("urn", ""))
	if raw == "" {
		return mcp.NewToolResultError("'urn' is required"), nil
	}

	res := t.resolver.Resolve(ctx, raw, store.Options{SkipCache: req.GetBool("skip_cache", false)})
	if !res.Success {
		log.Debug(log.CatMCP, "resolve failed", "urn", raw, "code", res.Code())
		return jsonError(res)
	}
	return jsonResult(res)
}

// DiffTool handles the diff_manifests tool.
type DiffTool struct {
	resolver *store.Resolver
}

// NewDiffTool creates a DiffTool. URN arguments are resolved with r.
func NewDiffTool(r *store.Resolver) *DiffTool {
	return &DiffTool{resolver: r}
}

// Definition returns the MCP tool definition for diff_manifests.
func (t *DiffTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolDiffManifests,
		mcp.WithDescription(
			"Structurally diff two manifests. Reports every change, the breaking and significant ones, "+
				"and an advisory migration plan. Each side is a URN or an inline JSON manifest document.",
		),
		mcp.WithString("base",
			mcp.Required(),
			mcp.Description("Base manifest: a URN or a JSON document"),
		),
		mcp.WithString("head",
			mcp.Required(),
			mcp.Description("Head manifest: a URN or a JSON document"),
		),
		mcp.WithBoolean("unified",
			mcp.Description("Include a unified line diff (default: false)"),
		),
	)
}

// DiffOutput is the JSON payload returned by diff_manifests.
type DiffOutput struct {
	Diff      diff.Result        `json:"diff"`
	Migration diff.MigrationPlan `json:"migration"`
	Unified   string             `json:"unified,omitempty"`
}

// Handle processes the diff_manifests tool call.
func (t *DiffTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracing.Start(ctx, tracing.SpanMCPPrefix+ToolDiffManifests,
		attribute.String(tracing.AttrMCPToolName, ToolDiffManifests))
	defer span.End()

	base, err := t.manifestArg(ctx, req, "base")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	head, err := t.manifestArg(ctx, req, "head")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res := diff.Manifests(base, head)
	span.SetAttributes(attribute.Int(tracing.AttrChangeCount, len(res.Changes)))

	out := DiffOutput{Diff: res, Migration: diff.PlanFor(res)}
	if req.GetBool("unified", false) {
		out.Unified = diff.Unified(base, head)
	}
	return jsonResult(out)
}

// manifestArg reads a URN or inline JSON manifest argument.
func (t *DiffTool) manifestArg(ctx context.Context, req mcp.CallToolRequest, key string) (*manifest.Manifest, error) {
	raw := strings.TrimSpace(req.GetString(key, ""))
	if raw == "" {
		return nil, fmt.Errorf("'%s' is required", key)
	}
	if !urn.IsURN(raw) {
		m, err := manifest.New([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return m, nil
	}

	res := t.resolver.Resolve(ctx, raw, store.Options{})
	if !res.Success {
		return nil, fmt.Errorf("%s: %s", key, res.Error.Error())
	}
	if res.Parsed != nil && res.Parsed.Fragment != "" {
		return nil, fmt.Errorf("%s: fragment URNs cannot be diffed", key)
	}
	return res.Manifest, nil
}

// ValidateCatalogTool handles the validate_catalog tool.
type ValidateCatalogTool struct {
	load CatalogLoader
	opts catalog.ValidateOptions
}

// NewValidateCatalogTool creates a ValidateCatalogTool.
func NewValidateCatalogTool(load CatalogLoader, opts catalog.ValidateOptions) *ValidateCatalogTool {
	return &ValidateCatalogTool{load: load, opts: opts}
}

// Definition returns the MCP tool definition for validate_catalog.
func (t *ValidateCatalogTool) Definition() mcp.Tool {
	return mcp.NewTool(ToolValidateCatalog,
		mcp.WithDescription(
			"Validate a manifest catalog: per-manifest checks, relationship cycles, PII governance "+
				"and scale limits. Returns a catalog report.",
		),
		mcp.WithString("patterns",
			mcp.Description("Comma-separated glob patterns (default: the configured manifest directory)"),
		),
		mcp.WithBoolean("strict",
			mcp.Description("Report ambiguous name-only references (default: from config)"),
		),
		mcp.WithString("format",
			mcp.Description("Output format: json (default) or markdown"),
		),
	)
}

// Handle processes the validate_catalog tool call.
func (t *ValidateCatalogTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx, span := tracing.Start(ctx, tracing.SpanMCPPrefix+ToolValidateCatalog,
		attribute.String(tracing.AttrMCPToolName, ToolValidateCatalog))
	defer span.End()

	var patterns []string
	for _, p := range strings.Split(req.GetString("patterns", ""), ",") {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}

	c, err := t.load(ctx, patterns)
	if err != nil {
		tracing.Fail(span, err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to load catalog: %v", err)), nil
	}

	opts := t.opts
	opts.Cycles.Strict = req.GetBool("strict", opts.Cycles.Strict)
	report := c.Report(ctx, opts)
	span.SetAttributes(attribute.Int(tracing.AttrCatalogSize, report.Total))

	switch req.GetString("format", "json") {
	case "markdown", "md":
		return mcp.NewToolResultText(report.Markdown()), nil
	case "json", "":
		return jsonResult(report)
	default:
		return mcp.NewToolResultError("format must be json or markdown"), nil
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// jsonError returns v as JSON text flagged as a tool error.
func jsonError(v any) (*mcp.CallToolResult, error) {
	res, err := jsonResult(v)
	if err != nil {
		return nil, err
	}
	res.IsError = true
	return res, nil
}
