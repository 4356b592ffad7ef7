// Package store resolves URNs to manifests.
//
// A Source loads the manifest for a parsed URN from some backing layout: a
// versioned directory tree (FileSource), an in-memory list (CatalogSource) or
// an etcd keyspace (EtcdSource). The Resolver layers version compatibility,
// fragment selection, caching and batching on top of any Source and reports
// every domain failure as a structured Result rather than a Go error.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/urn"
)

// ErrNotFound is returned by a Source that has no manifest for a URN.
var ErrNotFound = errors.New("manifest not found")

// Source loads manifests by identity.
type Source interface {
	// Name identifies the source in logs and results.
	Name() string
	// Load returns the manifest u names. For a "latest" URN the source picks
	// the highest version it holds. Load returns ErrNotFound when nothing
	// matches and a *ParseError when a document exists but is malformed.
	Load(ctx context.Context, u urn.URN) (*manifest.Manifest, error)
}

// ParseError reports a malformed manifest document.
type ParseError struct {
	Location string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Location, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FirstOf tries sources in order and returns the first manifest found. Parse
// and infrastructure errors stop the search.
type FirstOf []Source

var _ Source = FirstOf(nil)

func (f FirstOf) Name() string {
	name := "first-of("
	for i, s := range f {
		if i > 0 {
			name += ","
		}
		name += s.Name()
	}
	return name + ")"
}

func (f FirstOf) Load(ctx context.Context, u urn.URN) (*manifest.Manifest, error) {
	for _, s := range f {
		m, err := s.Load(ctx, u)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return m, err
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, u.Base())
}

// pickVersion selects among revisions of one identity. A latest request takes
// the highest version; a concrete request takes the v-insensitive exact match
// and otherwise falls back to the highest, leaving the compatibility check to
// the resolver.
func pickVersion(candidates []*manifest.Manifest, requested string) *manifest.Manifest {
	if len(candidates) == 0 {
		return nil
	}
	if requested != urn.Latest && requested != "" {
		want := urn.StripV(requested)
		for _, m := range candidates {
			if urn.StripV(m.Version()) == want {
				return m
			}
		}
	}
	best := candidates[0]
	for _, m := range candidates[1:] {
		if urn.CompareVersions(m.Version(), best.Version()) > 0 {
			best = m
		}
	}
	return best
}
