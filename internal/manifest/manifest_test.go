package manifest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/protoreg/internal/canon"
	"github.com/zjrosen/protoreg/internal/urn"
)

func userEvents() map[string]any {
	return map[string]any{
		"version": "1.1.1",
		"dataset": map[string]any{
			"name":      "user_events",
			"lifecycle": map[string]any{"status": "active"},
		},
		"schema": map[string]any{
			"primary_key": "event_id",
			"fields": map[string]any{
				"event_id": map[string]any{"type": "string", "required": true},
				"email":    map[string]any{"type": "string", "pii": true},
			},
		},
		"lineage": map[string]any{
			"consumers": []any{
				map[string]any{"type": "model", "id": "churn_model"},
				"urn:proto:event:user_activity@1.0.0",
			},
		},
		"governance": map[string]any{
			"storage_residency": map[string]any{"encrypted_at_rest": true},
		},
	}
}

func TestNew_InfersIdentity(t *testing.T) {
	m, err := New(userEvents())
	require.NoError(t, err)

	require.Equal(t, urn.Data, m.ProtocolType())
	require.Equal(t, "user_events", m.EntityID())
	require.Equal(t, "1.1.1", m.Version())
	require.True(t, m.VersionDeclared())
	require.True(t, canon.IsContentHash(m.Hash()))
	require.Equal(t, "urn:proto:data:user_events@1.1.1", m.URN().String())
}

func TestInferProtocolType(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		want urn.ProtocolType
	}{
		{"explicit wins", map[string]any{"protocolType": "event", "dataset": map[string]any{}}, urn.Event},
		{"protocol alias", map[string]any{"protocol": "agent"}, urn.Agent},
		{"dataset", map[string]any{"dataset": map[string]any{}}, urn.Data},
		{"api", map[string]any{"api": map[string]any{}}, urn.API},
		{"endpoints", map[string]any{"endpoints": []any{}}, urn.API},
		{"openapi", map[string]any{"openapi": "3.0.0"}, urn.API},
		{"event", map[string]any{"event": map[string]any{}}, urn.Event},
		{"agent", map[string]any{"agent": map[string]any{}}, urn.Agent},
		{"semantic", map[string]any{"semantic": map[string]any{}}, urn.Semantic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InferProtocolType(tt.body)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	_, err := InferProtocolType(map[string]any{"widget": true})
	require.ErrorIs(t, err, ErrUnknownShape)

	_, err = InferProtocolType(map[string]any{"protocolType": "graphql"})
	require.ErrorIs(t, err, urn.ErrUnknownProtocol)
}

func TestNew_EntityAndVersionFallbacks(t *testing.T) {
	m, err := New(map[string]any{"agent": map[string]any{"id": "planner", "name": "Planner Bot", "version": "v2.0.0"}})
	require.NoError(t, err)
	require.Equal(t, "planner", m.EntityID(), "agents prefer id")
	require.Equal(t, "v2.0.0", m.Version(), "prefix kept as declared")

	m, err = New(map[string]any{"event": map[string]any{}, "name": "top_level"})
	require.NoError(t, err)
	require.Equal(t, "top_level", m.EntityID())
	require.Equal(t, DefaultVersion, m.Version())
	require.False(t, m.VersionDeclared())

	m, err = New(map[string]any{"openapi": "3.0.0", "info": map[string]any{"title": "Billing API"}})
	require.NoError(t, err)
	require.Equal(t, "billing-api", m.EntityID())

	_, err = New(map[string]any{"dataset": map[string]any{"type": "table"}})
	require.ErrorIs(t, err, ErrMissingEntityID)
}

func TestNew_RejectsNonObjects(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrNotObject)

	_, err = New([]byte(`[1,2]`))
	require.ErrorIs(t, err, ErrNotObject)

	_, err = New([]byte(`{not json`))
	require.ErrorIs(t, err, ErrDecode)
}

func TestNew_CopiesInput(t *testing.T) {
	raw := userEvents()
	m, err := New(raw)
	require.NoError(t, err)
	hash := m.Hash()

	raw["dataset"].(map[string]any)["name"] = "changed"
	require.Equal(t, "user_events", m.EntityID())
	require.Equal(t, hash, m.Hash())

	body := m.Body()
	body["schema"] = nil
	require.Equal(t, hash, m.Hash())
	_, ok := m.Get("schema.fields.email")
	require.True(t, ok)
}

func TestWith_ReturnsNewManifest(t *testing.T) {
	m := MustNew(userEvents())

	next, err := m.With("schema.fields.email.required", true)
	require.NoError(t, err)
	require.NotEqual(t, m.Hash(), next.Hash())
	require.False(t, m.Equal(next))

	_, ok := m.Get("schema.fields.email.required")
	require.False(t, ok, "original unchanged")

	bumped, err := m.With("version", "1.2.0")
	require.NoError(t, err)
	require.Equal(t, "1.2.0", bumped.Version())
	require.True(t, bumped.URN().SameIdentity(m.URN()))

	_, err = m.With("schema..x", 1)
	require.ErrorIs(t, err, canon.ErrInvalidPath)
}

func TestManifest_HashIgnoresKeyOrder(t *testing.T) {
	a := MustNew([]byte(`{"dataset":{"name":"x","type":"table"},"version":"1.0.0"}`))
	b := MustNew([]byte(`{"version":"1.0.0","dataset":{"type":"table","name":"x"}}`))
	require.True(t, a.Equal(b))
	require.Equal(t, a.Canonical(), b.Canonical())
}

func TestManifest_JSONRoundTrip(t *testing.T) {
	m := MustNew(userEvents())
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var back Manifest
	require.NoError(t, json.Unmarshal(data, &back))
	require.True(t, m.Equal(&back))
	require.Equal(t, m.URN(), back.URN())

	var list []*Manifest
	require.NoError(t, json.Unmarshal([]byte(`[{"event":{"name":"a"}},{"api":{"name":"b"}}]`), &list))
	require.Len(t, list, 2)
	require.Equal(t, urn.API, list[1].ProtocolType())
}

func TestManifest_CyclicInput(t *testing.T) {
	raw := map[string]any{"dataset": map[string]any{"name": "loop"}}
	raw["self"] = raw

	m, err := New(raw)
	require.NoError(t, err)
	require.Contains(t, m.Canonical(), canon.CircularMarker)
}
