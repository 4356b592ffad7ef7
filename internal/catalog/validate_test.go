package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/testutil"
	"github.com/zjrosen/protoreg/internal/urn"
)

func TestValidate_Governance(t *testing.T) {
	c := New(testutil.NewBuilder(t).WithGovernanceTestData().Manifests())
	report := c.Validate(context.Background(), ValidateOptions{})

	require.False(t, report.Valid)
	require.Zero(t, report.InvalidItems())
	require.Empty(t, report.CrossEntityValidation.Cycles)

	got := map[string]string{}
	for _, v := range report.GovernanceChecks {
		got[v.URN] = v.Rule
	}
	require.Equal(t, map[string]string{
		"urn:proto:data:leads@1.0.0":  RuleDataEncryption,
		"urn:proto:event:click@1.0.0": RuleEventDelivery,
		"urn:proto:api:search@1.0.0":  RuleAPIClassification,
	}, got)
}

func TestValidate_BestEffortSatisfiesEventRule(t *testing.T) {
	c := New(testutil.NewBuilder(t).
		WithEvent("tap", testutil.Version("1.0.0"),
			testutil.PayloadField("ip", "string", true),
			testutil.Guarantee("best_effort")).
		Manifests())
	report := c.Validate(context.Background(), ValidateOptions{})
	require.Empty(t, report.GovernanceChecks)
	require.True(t, report.Valid)
}

func TestValidate_CategoriesAreIndependent(t *testing.T) {
	c := New(testutil.NewBuilder(t).
		WithCycleTestData().
		WithDataset("leads", testutil.Version("1.0.0"), testutil.Field("phone", "string", false, true)).
		WithAPI("broken", testutil.Version("1.0.0"), testutil.Endpoint("FETCH", "/x")).
		Manifests())

	report := c.Validate(context.Background(), ValidateOptions{})
	require.False(t, report.Valid)
	require.Len(t, report.CrossEntityValidation.Cycles, 1)
	require.NotEmpty(t, report.GovernanceChecks)
	require.Equal(t, 3, report.InvalidItems(), "user_activity and user_api lack payload/endpoints, broken has a bad method")
}

func TestValidate_Scale(t *testing.T) {
	c := New(testutil.NewBuilder(t).WithGovernanceTestData().Manifests())

	report := c.Validate(context.Background(), ValidateOptions{CheckScale: true, ScaleThreshold: 5})
	require.Equal(t, []ScaleWarning{{Metric: "manifests", Value: 6, Threshold: 5}}, report.PerformanceChecks)

	report = c.Validate(context.Background(), ValidateOptions{CheckScale: true})
	require.Empty(t, report.PerformanceChecks)

	report = c.Validate(context.Background(), ValidateOptions{ScaleThreshold: 1})
	require.Empty(t, report.PerformanceChecks, "scale checks are opt-in")
}

func TestValidate_ScaleMetrics(t *testing.T) {
	tests := []struct {
		name    string
		builder func(*testutil.Builder) *testutil.Builder
		want    []ScaleWarning
	}{
		{
			name: "endpoints summed across apis",
			builder: func(b *testutil.Builder) *testutil.Builder {
				return b.WithAPI("orders", testutil.Version("1.0.0"),
					testutil.Endpoint("GET", "/orders"),
					testutil.Endpoint("POST", "/orders"),
					testutil.Endpoint("DELETE", "/orders"))
			},
			want: []ScaleWarning{{Metric: "endpoints", Value: 3, Threshold: 2}},
		},
		{
			name: "events",
			builder: func(b *testutil.Builder) *testutil.Builder {
				return b.WithEvent("a", testutil.Version("1.0.0")).
					WithEvent("b", testutil.Version("1.0.0")).
					WithEvent("c", testutil.Version("1.0.0"))
			},
			want: []ScaleWarning{
				{Metric: "manifests", Value: 3, Threshold: 2},
				{Metric: "events", Value: 3, Threshold: 2},
			},
		},
		{
			name: "datasets and wide schemas",
			builder: func(b *testutil.Builder) *testutil.Builder {
				return b.WithDataset("a", testutil.Version("1.0.0"),
					testutil.Field("x", "string", false, false),
					testutil.Field("y", "string", false, false),
					testutil.Field("z", "string", false, false)).
					WithDataset("b", testutil.Version("1.0.0")).
					WithDataset("c", testutil.Version("1.0.0"))
			},
			want: []ScaleWarning{
				{Metric: "manifests", Value: 3, Threshold: 2},
				{Metric: "datasets", Value: 3, Threshold: 2},
				{Metric: "fields:urn:proto:data:a@1.0.0", Value: 3, Threshold: 2},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.builder(testutil.NewBuilder(t)).Manifests())
			report := c.Validate(context.Background(), ValidateOptions{CheckScale: true, ScaleThreshold: 2})
			require.Equal(t, tt.want, report.PerformanceChecks)
			require.Equal(t, report.InvalidItems() == 0 && len(report.GovernanceChecks) == 0, report.Valid,
				"performance checks never decide validity")
		})
	}
}

func TestRegistry_Defaults(t *testing.T) {
	reg := DefaultRegistry()
	tests := []struct {
		name   string
		body   map[string]any
		valid  bool
		issues int
	}{
		{"complete dataset", testutil.UserEvents("1.0.0"), true, 0},
		{"no version is a warning", testutil.Body("dataset", "x", testutil.Field("a", "string", false, false)), true, 1},
		{"bad version", testutil.Body("dataset", "x", testutil.Version("one"), testutil.Field("a", "string", false, false)), false, 1},
		{"no fields", testutil.Body("dataset", "x", testutil.Version("1.0.0")), false, 1},
		{"bad primary key", testutil.Body("dataset", "x", testutil.Version("1.0.0"), testutil.Field("a", "string", false, false), testutil.PrimaryKey("b")), false, 1},
		{"bad lifecycle", testutil.Body("dataset", "x", testutil.Version("1.0.0"), testutil.Field("a", "string", false, false), testutil.Status("zombie")), false, 1},
		{"bad method", testutil.Body("api", "x", testutil.Version("1.0.0"), testutil.Endpoint("FETCH", "/")), false, 1},
		{"bad guarantee", testutil.Body("event", "x", testutil.Version("1.0.0"), testutil.PayloadField("a", "string", false), testutil.Guarantee("sometimes")), false, 1},
		{"agent", testutil.Body("agent", "x", testutil.Version("1.0.0")), true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := reg.Validate(manifest.MustNew(tt.body))
			require.Equal(t, tt.valid, res.Valid, res.Issues)
			require.Len(t, res.Issues, tt.issues, res.Issues)
		})
	}
}

func TestRegistry_CustomValidators(t *testing.T) {
	reg := NewRegistry()
	require.True(t, reg.Validate(manifest.MustNew(testutil.Body("dataset", "x"))).Valid)

	reg.Register(urn.Data, "owner", func(m *manifest.Manifest, _ manifest.Payload) []Issue {
		if _, ok := m.Get("owner"); !ok {
			return []Issue{{Path: "owner", Message: "owner is required"}}
		}
		return nil
	})
	res := reg.Validate(manifest.MustNew(testutil.Body("dataset", "x")))
	require.False(t, res.Valid)
	require.Equal(t, Issue{Validator: "owner", Severity: SeverityError, Path: "owner", Message: "owner is required"}, res.Issues[0])

	reg.Register(urn.Data, "owner", func(*manifest.Manifest, manifest.Payload) []Issue { return nil })
	require.Equal(t, []string{"owner"}, reg.Names(urn.Data))
	require.True(t, reg.Validate(manifest.MustNew(testutil.Body("dataset", "x"))).Valid)

	var zero Registry
	zero.Register(urn.API, "noop", func(*manifest.Manifest, manifest.Payload) []Issue { return nil })
	require.Equal(t, []string{"noop"}, zero.Names(urn.API))
}

func TestRegistry_UndecodableBody(t *testing.T) {
	m := manifest.MustNew(testutil.Body("dataset", "x", testutil.Set("schema", "flat")))
	res := DefaultRegistry().Validate(m)
	require.False(t, res.Valid)
	require.Equal(t, "decode", res.Issues[0].Validator)
}
