// Package testutil provides manifest fixtures and test databases.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/protoreg/internal/manifest"
)

// Builder accumulates manifest fixtures.
type Builder struct {
	t      testing.TB
	bodies []map[string]any
}

// NewBuilder creates an empty fixture builder.
func NewBuilder(t testing.TB) *Builder {
	t.Helper()
	return &Builder{t: t}
}

// Body returns a fixture body with header key family and name, after opts.
func Body(family, name string, opts ...Option) map[string]any {
	header := map[string]any{"name": name}
	if family == "agent" {
		header = map[string]any{"id": name, "name": name}
	}
	body := map[string]any{family: header}
	for _, opt := range opts {
		body = opt(body)
	}
	return body
}

// WithDataset adds a data manifest.
func (b *Builder) WithDataset(name string, opts ...Option) *Builder {
	return b.add(Body("dataset", name, opts...))
}

// WithAPI adds an API manifest.
func (b *Builder) WithAPI(name string, opts ...Option) *Builder {
	return b.add(Body("api", name, opts...))
}

// WithEvent adds an event manifest.
func (b *Builder) WithEvent(name string, opts ...Option) *Builder {
	return b.add(Body("event", name, opts...))
}

// WithAgent adds an agent manifest.
func (b *Builder) WithAgent(id string, opts ...Option) *Builder {
	return b.add(Body("agent", id, opts...))
}

// WithSemantic adds a semantic manifest.
func (b *Builder) WithSemantic(name string, opts ...Option) *Builder {
	return b.add(Body("semantic", name, opts...))
}

// WithBody adds a raw body.
func (b *Builder) WithBody(body map[string]any) *Builder {
	return b.add(body)
}

func (b *Builder) add(body map[string]any) *Builder {
	b.bodies = append(b.bodies, body)
	return b
}

// Bodies returns the raw fixture bodies.
func (b *Builder) Bodies() []map[string]any {
	return b.bodies
}

// Manifests builds every fixture, failing the test on invalid input.
func (b *Builder) Manifests() []*manifest.Manifest {
	b.t.Helper()
	out := make([]*manifest.Manifest, 0, len(b.bodies))
	for _, body := range b.bodies {
		m, err := manifest.New(body)
		require.NoError(b.t, err)
		out = append(out, m)
	}
	return out
}

// WriteDir lays the fixtures out as {dir}/{type}/{id}@{version}.json and
// returns dir.
func (b *Builder) WriteDir(dir string) string {
	b.t.Helper()
	for _, m := range b.Manifests() {
		name := m.EntityID() + "@" + m.Version() + ".json"
		WriteFile(b.t, dir, string(m.ProtocolType()), name, m)
	}
	return dir
}

// WriteFile writes v as indented JSON to {dir}/{sub}/{name}.
func WriteFile(t testing.TB, dir, sub, name string, v any) string {
	t.Helper()
	target := filepath.Join(dir, sub)
	require.NoError(t, os.MkdirAll(target, 0o750))
	data, err := json.MarshalIndent(v, "", "  ")
	require.NoError(t, err)
	path := filepath.Join(target, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}
