package store

import (
	"context"
	"fmt"

	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/urn"
)

// CatalogSource resolves against an in-memory manifest list, matching on the
// inferred protocol type and entity id.
type CatalogSource struct {
	byIdentity map[string][]*manifest.Manifest
}

var _ Source = (*CatalogSource)(nil)

// NewCatalogSource indexes manifests by identity. The manifests are immutable
// so the slice is not copied.
func NewCatalogSource(manifests []*manifest.Manifest) *CatalogSource {
	idx := make(map[string][]*manifest.Manifest, len(manifests))
	for _, m := range manifests {
		if m == nil {
			continue
		}
		key := identityKey(m.ProtocolType(), m.EntityID())
		idx[key] = append(idx[key], m)
	}
	return &CatalogSource{byIdentity: idx}
}

func (s *CatalogSource) Name() string { return "catalog" }

func (s *CatalogSource) Load(ctx context.Context, u urn.URN) (*manifest.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := pickVersion(s.byIdentity[identityKey(u.Type, u.ID)], u.Version)
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, u.Base())
	}
	return m, nil
}

func identityKey(t urn.ProtocolType, id string) string {
	return string(t) + ":" + id
}
