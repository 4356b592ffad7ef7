package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/protoreg/internal/catalog"
	"github.com/zjrosen/protoreg/internal/history"
	"github.com/zjrosen/protoreg/internal/store"
	"github.com/zjrosen/protoreg/internal/testutil"
)

// run executes one protoreg invocation in isolation from the user's config.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PROTOREG_DEBUG", "")

	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func cycleDir(t *testing.T) string {
	t.Helper()
	return testutil.NewBuilder(t).WithCycleTestData().WriteDir(t.TempDir())
}

func TestResolve_PrintsResult(t *testing.T) {
	dir := cycleDir(t)

	out, err := run(t, "resolve", "-d", dir, "urn:proto:data:user_events@1.1.1#schema.fields.email")
	require.NoError(t, err)

	var res store.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	require.True(t, res.Success)
	require.NotNil(t, res.ResolvedData)
	require.Equal(t, "schema.fields.email", res.Parsed.Fragment)
}

func TestResolve_FailureReturnsError(t *testing.T) {
	dir := cycleDir(t)

	out, err := run(t, "resolve", "-d", dir, "urn:proto:data:missing@1.0.0")
	require.Error(t, err)
	require.Contains(t, out, string(store.CodeManifestNotFound))
}

func TestValidateURN(t *testing.T) {
	dir := cycleDir(t)

	_, err := run(t, "validate-urn", "-d", dir, "urn:proto:api:user_api@2.0.0")
	require.NoError(t, err)

	_, err = run(t, "validate-urn", "-d", dir, "not-a-urn")
	require.Error(t, err)
}

func TestBatch_PreservesOrder(t *testing.T) {
	dir := cycleDir(t)
	list := filepath.Join(t.TempDir(), "urns.txt")
	require.NoError(t, os.WriteFile(list, []byte(
		"# fixtures\nurn:proto:event:user_activity@1.0.0\n\nbogus\n"), 0o600))

	out, err := run(t, "batch", "-d", dir, "urn:proto:data:user_events", "--file", list)
	require.NoError(t, err)

	var results []store.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results), out)
	require.Len(t, results, 3)
	require.True(t, results[0].Success)
	require.True(t, results[1].Success)
	require.False(t, results[2].Success)
	require.Equal(t, store.CodeInvalidURNFormat, results[2].Code())
}

func TestBatch_RequiresURNs(t *testing.T) {
	_, err := run(t, "batch", "-d", t.TempDir())
	require.ErrorContains(t, err, "no URNs given")
}

func writeDiffPair(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	base := testutil.WriteFile(t, dir, "data", "user_events@1.0.0.json", testutil.UserEvents("1.0.0"))
	head := testutil.WriteFile(t, dir, "data", "user_events@1.1.0.json",
		testutil.Body("dataset", "user_events",
			testutil.Version("1.1.0"),
			testutil.Status("active"),
			testutil.PrimaryKey("event_id"),
			testutil.Field("event_id", "string", true, false)))
	return base, head
}

func TestDiff_TextAndFailOnBreaking(t *testing.T) {
	base, head := writeDiffPair(t)

	out, err := run(t, "diff", base, head)
	require.NoError(t, err)
	require.Contains(t, out, "BREAKING")
	require.Contains(t, out, "schema.fields.email")

	_, err = run(t, "diff", base, head, "--fail-on-breaking")
	require.ErrorIs(t, err, ErrBreakingChanges)
}

func TestDiff_SameFileHasNoChanges(t *testing.T) {
	base, _ := writeDiffPair(t)

	out, err := run(t, "diff", base, base, "--fail-on-breaking")
	require.NoError(t, err)
	require.Equal(t, "no changes\n", out)
}

func TestDiff_URNArguments(t *testing.T) {
	dir := cycleDir(t)

	out, err := run(t, "diff", "-d", dir, "--json",
		"urn:proto:data:user_events@1.1.1", "urn:proto:data:user_events@latest")
	require.NoError(t, err)
	require.Contains(t, out, `"diff"`)

	_, err = run(t, "diff", "-d", dir,
		"urn:proto:data:user_events@1.1.1#schema", "urn:proto:data:user_events@1.1.1")
	require.ErrorContains(t, err, "fragment")
}

func TestMigrate(t *testing.T) {
	base, head := writeDiffPair(t)

	out, err := run(t, "migrate", base, head)
	require.NoError(t, err)
	require.NotContains(t, out, "no migration needed")

	out, err = run(t, "migrate", base, base)
	require.NoError(t, err)
	require.Equal(t, "-- no migration needed\n", out)
}

func TestHash_IgnoresKeyOrderAndEncoding(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "a.json")
	yamlPath := filepath.Join(dir, "b.yaml")
	require.NoError(t, os.WriteFile(jsonPath, []byte(
		`{"dataset":{"name":"orders","version":"1.0.0"},"schema":{"fields":{}}}`), 0o600))
	require.NoError(t, os.WriteFile(yamlPath, []byte(
		"schema:\n  fields: {}\ndataset:\n  version: 1.0.0\n  name: orders\n"), 0o600))

	out, err := run(t, "hash", jsonPath, yamlPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "fnv1a64:"))
	require.Equal(t, strings.Fields(lines[0])[0], strings.Fields(lines[1])[0])
	require.Contains(t, lines[0], "urn:proto:data:orders@1.0.0")

	out, err = run(t, "hash", "--canonical", jsonPath)
	require.NoError(t, err)
	require.Equal(t, `{"dataset":{"name":"orders","version":"1.0.0"},"schema":{"fields":{}}}`+"\n", out)
}

func TestCatalogValidate(t *testing.T) {
	dir := cycleDir(t)

	out, err := run(t, "catalog", "validate", "-d", dir)
	require.ErrorIs(t, err, ErrCatalogInvalid)

	var report catalog.ValidationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	require.False(t, report.Valid)
	require.NotEmpty(t, report.CrossEntityValidation.Cycles)
}

func TestCatalogValidate_CleanCatalog(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "data", "user_events@1.0.0.json", testutil.UserEvents("1.0.0"))

	_, err := run(t, "catalog", "validate", "-d", dir)
	require.NoError(t, err)
}

func TestCatalogCycles(t *testing.T) {
	dir := cycleDir(t)

	out, err := run(t, "catalog", "cycles", "-d", dir)
	require.NoError(t, err)
	require.Contains(t, out, "urn:proto:data:user_events@1.1.1")
	require.Contains(t, out, " -> ")
}

func TestCatalogRelationships(t *testing.T) {
	dir := cycleDir(t)

	out, err := run(t, "catalog", "relationships", "-d", dir)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "SOURCE"))
	require.Contains(t, out, catalog.RelDependsOn)
}

func TestCatalogReport_Formats(t *testing.T) {
	dir := cycleDir(t)

	out, err := run(t, "catalog", "report", "-d", dir, "--format", "json")
	require.NoError(t, err)
	var report catalog.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	require.Equal(t, 3, report.Total)

	out, err = run(t, "catalog", "report", "-d", dir, "--format", "markdown")
	require.NoError(t, err)
	require.Contains(t, out, "#")

	_, err = run(t, "catalog", "report", "-d", dir, "--format", "pretty", "--style", "notty")
	require.NoError(t, err)

	_, err = run(t, "catalog", "report", "-d", dir, "--format", "xml")
	require.ErrorContains(t, err, "unknown format")
}

func TestCatalogFind(t *testing.T) {
	dir := cycleDir(t)

	out, err := run(t, "catalog", "find", "-d", dir, "--type", "api")
	require.NoError(t, err)
	require.Equal(t, "urn:proto:api:user_api@2.0.0\n", out)

	out, err = run(t, "catalog", "find", "-d", dir, `id == "user_activity"`)
	require.NoError(t, err)
	require.Equal(t, "urn:proto:event:user_activity@1.0.0\n", out)

	_, err = run(t, "catalog", "find", "-d", dir, "--type", "widget")
	require.Error(t, err)
}

func TestHistory_RecordListDrift(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(t.TempDir(), "history.db")
	t.Setenv("PROTOREG_HISTORY_PATH", db)
	path := testutil.WriteFile(t, dir, "data", "user_events.json", testutil.UserEvents("1.0.0"))

	out, err := run(t, "history", "record", "-d", dir)
	require.NoError(t, err)
	require.Contains(t, out, "recorded")

	out, err = run(t, "history", "record", "-d", dir)
	require.NoError(t, err)
	require.Contains(t, out, "unchanged")

	out, err = run(t, "history", "drift", "data", "user_events")
	require.NoError(t, err)
	require.Contains(t, out, "nothing to compare")

	testutil.WriteFile(t, dir, "data", filepath.Base(path), testutil.UserEvents("1.1.0"))
	_, err = run(t, "history", "record", "-d", dir)
	require.NoError(t, err)

	out, err = run(t, "history", "list", "data", "user_events")
	require.NoError(t, err)
	require.Contains(t, out, "1.1.0")
	require.Contains(t, out, "1.0.0")

	out, err = run(t, "history", "drift", "data", "user_events")
	require.NoError(t, err)
	require.Contains(t, out, "1.0.0 -> 1.1.0")

	_, err = run(t, "history", "list", "api", "nothing")
	require.ErrorIs(t, err, history.ErrNoHistory)
}

func TestConfig_InitSetShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	_, err := run(t, "config", "init", "--config", path)
	require.NoError(t, err)
	require.FileExists(t, path)

	_, err = run(t, "config", "init", "--config", path)
	require.ErrorIs(t, err, ErrConfigExists)
	_, err = run(t, "config", "init", "--config", path, "--force")
	require.NoError(t, err)

	_, err = run(t, "config", "set", "--config", path, "cache.ttl", "90s")
	require.NoError(t, err)

	out, err := run(t, "config", "show", "--config", path, "--json")
	require.NoError(t, err)
	var settings map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &settings), out)
	cache, ok := settings["cache"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "90s", cache["ttl"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "# protoreg configuration")
}

func TestConfig_InvalidFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  backend: memcached\n"), 0o600))

	_, err := run(t, "resolve", "--config", path, "urn:proto:data:x@1.0.0")
	require.ErrorContains(t, err, "invalid configuration")

	// config subcommands still work so the file can be repaired.
	_, err = run(t, "config", "set", "--config", path, "cache.backend", "memory")
	require.NoError(t, err)
}

func TestConfig_MissingExplicitFile(t *testing.T) {
	_, err := run(t, "resolve", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "urn:proto:data:x@1.0.0")
	require.ErrorContains(t, err, "reading config")
}

func TestServe_StopsWithContext(t *testing.T) {
	dir := cycleDir(t)
	t.Setenv("HOME", t.TempDir())

	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"serve", "-d", dir, "--addr", "127.0.0.1:0", "--no-watch"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, root.ExecuteContext(ctx))
	require.Contains(t, out.String(), "Server stopped")
}
