package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/zjrosen/protoreg/internal/catalog"
	"github.com/zjrosen/protoreg/internal/diff"
	"github.com/zjrosen/protoreg/internal/store"
	"github.com/zjrosen/protoreg/internal/testutil"
)

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func fixtures(t *testing.T) (*store.Resolver, CatalogLoader) {
	t.Helper()
	dir := testutil.NewBuilder(t).WithCycleTestData().WriteDir(t.TempDir())
	load := func(ctx context.Context, patterns []string) (*catalog.Catalog, error) {
		if len(patterns) == 0 {
			patterns = []string{dir + "/**/*.json"}
		}
		res, err := catalog.LoadGlob(ctx, patterns...)
		if err != nil {
			return nil, err
		}
		return res.Catalog, nil
	}
	return store.NewResolver(store.NewFileSource(dir)), load
}

func TestResolveTool_Definition(t *testing.T) {
	r, _ := fixtures(t)
	def := NewResolveTool(r).Definition()

	require.Equal(t, ToolResolveURN, def.Name)
	require.Contains(t, def.InputSchema.Properties, "urn")
	require.Contains(t, def.InputSchema.Properties, "skip_cache")
	require.Contains(t, def.InputSchema.Required, "urn")
}

func TestResolveTool_Handle(t *testing.T) {
	r, _ := fixtures(t)
	tool := NewResolveTool(r)

	res, err := tool.Handle(context.Background(), makeReq(map[string]any{
		"urn": "urn:proto:data:user_events@1.1.1#schema.fields.email.pii",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &out))
	require.Equal(t, true, out["resolvedData"])

	res, err = tool.Handle(context.Background(), makeReq(map[string]any{"urn": "urn:proto:data:ghost"}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, resultText(res), string(store.CodeManifestNotFound))

	res, err = tool.Handle(context.Background(), makeReq(nil))
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Equal(t, "'urn' is required", resultText(res))
}

func TestDiffTool_Handle(t *testing.T) {
	r, _ := fixtures(t)
	tool := NewDiffTool(r)

	def := tool.Definition()
	require.ElementsMatch(t, []string{"base", "head"}, def.InputSchema.Required)

	head := `{"dataset": {"name": "user_events"}, "version": "1.2.0",
		"schema": {"fields": {}}}`
	res, err := tool.Handle(context.Background(), makeReq(map[string]any{
		"base":    "urn:proto:data:user_events@1.1.1",
		"head":    head,
		"unified": true,
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(res))

	var out DiffOutput
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &out))
	require.NotEmpty(t, out.Diff.Changes)
	require.Contains(t, breakingReasons(out.Diff), diff.ReasonFieldRemoved)
	require.Contains(t, out.Migration.Steps, "DROP COLUMN email")
	require.NotEmpty(t, out.Unified)
}

func TestDiffTool_Errors(t *testing.T) {
	r, _ := fixtures(t)
	tool := NewDiffTool(r)

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing base", map[string]any{"head": "{}"}, "'base' is required"},
		{"bad json", map[string]any{"base": "{oops", "head": "{}"}, "base:"},
		{"unknown urn", map[string]any{"base": "urn:proto:api:ghost", "head": "urn:proto:api:user_api"}, "ManifestNotFound"},
		{"fragment", map[string]any{"base": "urn:proto:api:user_api#metadata", "head": "urn:proto:api:user_api"}, "fragment URNs cannot be diffed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tool.Handle(context.Background(), makeReq(tt.args))
			require.NoError(t, err)
			require.True(t, res.IsError)
			require.Contains(t, resultText(res), tt.want)
		})
	}
}

func TestValidateCatalogTool_Handle(t *testing.T) {
	_, load := fixtures(t)
	tool := NewValidateCatalogTool(load, catalog.ValidateOptions{})

	res, err := tool.Handle(context.Background(), makeReq(nil))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var report catalog.Report
	require.NoError(t, json.Unmarshal([]byte(resultText(res)), &report))
	require.Equal(t, 3, report.Total)
	require.NotEmpty(t, report.Validation.CrossEntityValidation.Cycles)
	require.False(t, report.Validation.Valid)

	res, err = tool.Handle(context.Background(), makeReq(map[string]any{"format": "markdown"}))
	require.NoError(t, err)
	require.Contains(t, resultText(res), "#")

	res, err = tool.Handle(context.Background(), makeReq(map[string]any{"format": "xml"}))
	require.NoError(t, err)
	require.True(t, res.IsError)
}

func TestValidateCatalogTool_LoadError(t *testing.T) {
	tool := NewValidateCatalogTool(func(context.Context, []string) (*catalog.Catalog, error) {
		return nil, errors.New("no such dir")
	}, catalog.ValidateOptions{})

	res, err := tool.Handle(context.Background(), makeReq(map[string]any{"patterns": "a/**/*.json, b/*.yaml"}))
	require.NoError(t, err)
	require.True(t, res.IsError)
	require.Contains(t, resultText(res), "no such dir")
}

func TestNewServer_RegistersTools(t *testing.T) {
	r, load := fixtures(t)

	s := NewServer(Config{Resolver: r, Catalog: load})
	require.NotNil(t, s)
	require.Len(t, s.ListTools(), 3)

	s = NewServer(Config{Resolver: r})
	require.Len(t, s.ListTools(), 2)
}

func breakingReasons(r diff.Result) []string {
	out := make([]string, 0, len(r.Breaking))
	for _, b := range r.Breaking {
		out = append(out, b.Reason)
	}
	return out
}
