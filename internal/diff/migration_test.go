package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/testutil"
)

func TestGenerateMigration(t *testing.T) {
	base := dataset()
	head := dataset(
		testutil.Field("tenant", "string", true, false),
		testutil.Field("email", "text", true, true),
	)
	head, err := head.With("schema.fields", withoutKey(head, "id"))
	require.NoError(t, err)

	plan := GenerateMigration(base, head)

	require.Equal(t, []string{
		"-- email: pii false -> true",
		"-- email: required false -> true",
		"ALTER COLUMN email TYPE text",
		"DROP COLUMN id",
		"ADD COLUMN tenant string",
	}, plan.Steps)

	require.Contains(t, plan.Notes, "backfill required for email")
	require.Contains(t, plan.Notes, "backfill required for tenant")
	require.Contains(t, plan.Notes, "policy re-classification required for email")
	require.Contains(t, plan.Notes, "BREAKING: field removed @ schema.fields.id")
	require.Contains(t, plan.Notes, "BREAKING: required field added @ schema.fields.tenant")
	require.Contains(t, plan.Notes, "BREAKING: field type changed @ schema.fields.email.type")
}

func TestGenerateMigration_SchemaRemoved(t *testing.T) {
	head := manifest.MustNew(testutil.Body("dataset", "users", testutil.Version("1.0.0"), testutil.Status("active")))

	plan := GenerateMigration(dataset(), head)
	require.Equal(t, []string{"DROP COLUMN email", "DROP COLUMN id"}, plan.Steps)
	require.Contains(t, plan.Notes, "BREAKING: field removed @ schema.fields.email")
	require.Contains(t, plan.Notes, "BREAKING: primary key changed @ schema.primary_key")
}

func withoutKey(m *manifest.Manifest, key string) map[string]any {
	fields, _ := m.Get("schema.fields")
	out := map[string]any{}
	for k, v := range fields.(map[string]any) {
		if k != key {
			out[k] = v
		}
	}
	return out
}

func TestGenerateMigration_NotesDeduplicated(t *testing.T) {
	plan := PlanFor(Result{
		Breaking: []Breaking{
			{Path: "schema.primary_key[0]", Reason: ReasonPrimaryKeyChanged},
			{Path: "schema.primary_key[0]", Reason: ReasonPrimaryKeyChanged},
		},
	})
	require.Equal(t, []string{"BREAKING: primary key changed @ schema.primary_key[0]"}, plan.Notes)
	require.Empty(t, plan.Steps)
}

func TestGenerateMigration_NoChanges(t *testing.T) {
	m := dataset()
	plan := GenerateMigration(m, m)
	require.Empty(t, plan.Steps)
	require.Empty(t, plan.Notes)
}

func TestUnified(t *testing.T) {
	a := dataset()
	b := dataset(testutil.Field("email", "text", false, false))

	out := Unified(a, b)
	require.True(t, strings.HasPrefix(out, "--- urn:proto:data:users@1.0.0\n+++ urn:proto:data:users@1.0.0\n"))
	var removed, added []string
	for _, line := range strings.Split(out, "\n")[2:] {
		switch {
		case strings.HasPrefix(line, "-"):
			removed = append(removed, strings.TrimSpace(line[1:]))
		case strings.HasPrefix(line, "+"):
			added = append(added, strings.TrimSpace(line[1:]))
		}
	}
	require.Equal(t, []string{`"type": "string"`}, removed)
	require.Equal(t, []string{`"type": "text"`}, added)

	require.Empty(t, Unified(a, a))
	require.Contains(t, Unified(nil, a), "--- /dev/null")
}
