// Package catalog aggregates manifests and reasons about them as a system:
// querying, relationship extraction, cross-entity cycle detection, governance
// validation and report rendering.
//
// A Catalog is immutable once built. Every operation is a pure function of
// its items, so a Catalog is safe to share between goroutines.
package catalog

import (
	"context"

	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/store"
	"github.com/zjrosen/protoreg/internal/urn"
)

// DefaultURNVersion is used by GenerateURN for manifests without a declared
// version.
const DefaultURNVersion = "v1.1.1"

// Catalog is an immutable set of manifests.
type Catalog struct {
	items    []*manifest.Manifest
	resolver *store.Resolver
}

// New builds a catalog from manifests. Nil entries are dropped and the slice
// is copied.
func New(manifests []*manifest.Manifest) *Catalog {
	items := make([]*manifest.Manifest, 0, len(manifests))
	for _, m := range manifests {
		if m != nil {
			items = append(items, m)
		}
	}
	return &Catalog{
		items:    items,
		resolver: store.NewResolver(store.NewCatalogSource(items), store.WithoutCache()),
	}
}

// Items returns a copy of the catalog's manifests in insertion order.
func (c *Catalog) Items() []*manifest.Manifest {
	out := make([]*manifest.Manifest, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of manifests.
func (c *Catalog) Len() int { return len(c.items) }

// GenerateURN returns urn:proto:{type}:{id}@{version}, using
// DefaultURNVersion when m declares no version.
func GenerateURN(m *manifest.Manifest) string {
	version := m.Version()
	if !m.VersionDeclared() {
		version = DefaultURNVersion
	}
	return urn.Build(m.ProtocolType(), m.EntityID(), version)
}

// ResolveURN resolves raw against the catalog's own manifests, uncached.
func (c *Catalog) ResolveURN(ctx context.Context, raw string) *store.Result {
	return c.resolver.Resolve(ctx, raw, store.Options{})
}

// ByName returns the first manifest whose entity id is name.
func (c *Catalog) ByName(name string) (*manifest.Manifest, bool) {
	for _, m := range c.items {
		if m.EntityID() == name {
			return m, true
		}
	}
	return nil, false
}

// CountByType tallies manifests per protocol type. Every type is present.
func (c *Catalog) CountByType() map[urn.ProtocolType]int {
	counts := make(map[urn.ProtocolType]int, len(urn.ProtocolTypes()))
	for _, t := range urn.ProtocolTypes() {
		counts[t] = 0
	}
	for _, m := range c.items {
		counts[m.ProtocolType()]++
	}
	return counts
}
