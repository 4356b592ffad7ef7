// Package manifest defines the immutable Manifest value: a versioned,
// content-hashed description of one dataset, API, event, agent or semantic
// surface.
//
// A Manifest keeps its body as a generic JSON tree so that canonicalization
// and diffing can treat every protocol family uniformly. The strongly typed
// view of a body is available through Payload, which decodes into one of the
// protocol-specific variants.
//
// Manifests are never mutated. Accessors return deep copies and With returns
// a new Manifest.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zjrosen/protoreg/internal/canon"
	"github.com/zjrosen/protoreg/internal/urn"
)

// DefaultVersion is assumed when a manifest declares no version.
const DefaultVersion = "1.1.1"

// Construction errors. All of them describe a malformed source document.
var (
	ErrUnknownShape    = errors.New("cannot infer protocol type")
	ErrMissingEntityID = errors.New("manifest has no name or id")
	ErrNotObject       = errors.New("manifest must be an object")
	ErrDecode          = errors.New("decode manifest")
)

// Manifest is one immutable protocol instance.
type Manifest struct {
	protocolType    urn.ProtocolType
	entityID        string
	version         string
	versionDeclared bool
	body            map[string]any
	hash            string
}

// New builds a Manifest from raw input. raw may be a generic tree
// (map[string]any) or any value that encodes to a JSON object. The input is
// copied; later changes to raw do not affect the Manifest.
func New(raw any) (*Manifest, error) {
	body, err := toBody(raw)
	if err != nil {
		return nil, err
	}
	return fromBody(body)
}

// MustNew is New for fixtures; it panics on error.
func MustNew(raw any) *Manifest {
	m, err := New(raw)
	if err != nil {
		panic(err)
	}
	return m
}

func toBody(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return nil, ErrNotObject
	case map[string]any:
		return canon.CloneMap(v), nil
	case *Manifest:
		return v.Body(), nil
	case json.RawMessage:
		return decodeJSONObject(v)
	case []byte:
		return decodeJSONObject(v)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return decodeJSONObject(data)
}

func decodeJSONObject(data []byte) (map[string]any, error) {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return m, nil
}

// fromBody takes ownership of body.
func fromBody(body map[string]any) (*Manifest, error) {
	pt, err := InferProtocolType(body)
	if err != nil {
		return nil, err
	}
	id := inferEntityID(pt, body)
	if id == "" {
		return nil, fmt.Errorf("%w: %s manifest", ErrMissingEntityID, pt)
	}
	version, declared := inferVersion(pt, body)
	return &Manifest{
		protocolType:    pt,
		entityID:        id,
		version:         version,
		versionDeclared: declared,
		body:            body,
		hash:            canon.ContentHash(body),
	}, nil
}

// ProtocolType returns the declared or inferred protocol family.
func (m *Manifest) ProtocolType() urn.ProtocolType { return m.protocolType }

// EntityID returns the stable name of the described entity.
func (m *Manifest) EntityID() string { return m.entityID }

// Version returns the manifest version exactly as declared, or DefaultVersion.
func (m *Manifest) Version() string { return m.version }

// VersionDeclared reports whether the body carried a version.
func (m *Manifest) VersionDeclared() bool { return m.versionDeclared }

// Hash returns the content hash of the body.
func (m *Manifest) Hash() string { return m.hash }

// Body returns a deep copy of the manifest body.
func (m *Manifest) Body() map[string]any { return canon.CloneMap(m.body) }

// Canonical returns the canonical text of the body.
func (m *Manifest) Canonical() string { return canon.Canonicalize(m.body) }

// URN returns the identity of this exact revision.
func (m *Manifest) URN() urn.URN {
	return urn.URN{Type: m.protocolType, ID: m.entityID, Version: m.version}
}

// Get returns a copy of the value at a dot/bracket path.
func (m *Manifest) Get(path string) (any, bool) {
	p, err := canon.ParsePath(path)
	if err != nil {
		return nil, false
	}
	return m.GetPath(p)
}

// GetPath is Get for an already parsed path.
func (m *Manifest) GetPath(p canon.Path) (any, bool) {
	v, ok := p.Get(m.body)
	if !ok {
		return nil, false
	}
	return canon.Clone(v), true
}

// With returns a new Manifest with value stored at path. The receiver is
// unchanged. Identity fields are re-derived, so setting a name or version
// yields a manifest for a different identity or revision.
func (m *Manifest) With(path string, value any) (*Manifest, error) {
	p, err := canon.ParsePath(path)
	if err != nil {
		return nil, err
	}
	if len(p) == 0 {
		return New(value)
	}
	updated, err := p.Set(m.body, canon.Clone(value))
	if err != nil {
		return nil, err
	}
	body, ok := updated.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return fromBody(canon.CloneMap(body))
}

// Equal reports whether two manifests have identical content.
func (m *Manifest) Equal(other *Manifest) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.hash == other.hash
}

func (m *Manifest) String() string {
	return fmt.Sprintf("%s (%s)", m.URN().String(), m.hash)
}

// MarshalJSON encodes the body.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.body)
}

// UnmarshalJSON decodes a body and derives identity from it.
func (m *Manifest) UnmarshalJSON(data []byte) error {
	body, err := decodeJSONObject(data)
	if err != nil {
		return err
	}
	parsed, err := fromBody(body)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// familyKeys maps a protocol type to the top-level object holding its header.
var familyKeys = map[urn.ProtocolType]string{
	urn.Data:     "dataset",
	urn.API:      "api",
	urn.Event:    "event",
	urn.Agent:    "agent",
	urn.Semantic: "semantic",
}

// FamilyKey returns the top-level header key for pt ("dataset" for data).
func FamilyKey(pt urn.ProtocolType) string { return familyKeys[pt] }

// InferProtocolType derives the protocol family from the body shape. An
// explicit protocolType (or protocol) key wins; otherwise the first present of
// dataset, api, endpoints, openapi, event, agent and semantic decides.
func InferProtocolType(body map[string]any) (urn.ProtocolType, error) {
	for _, key := range []string{"protocolType", "protocol"} {
		if s, ok := body[key].(string); ok && s != "" {
			return urn.ParseProtocolType(s)
		}
	}
	switch {
	case has(body, "dataset"):
		return urn.Data, nil
	case has(body, "api"), has(body, "endpoints"), has(body, "openapi"):
		return urn.API, nil
	case has(body, "event"):
		return urn.Event, nil
	case has(body, "agent"):
		return urn.Agent, nil
	case has(body, "semantic"):
		return urn.Semantic, nil
	}
	return "", ErrUnknownShape
}

func has(body map[string]any, key string) bool {
	_, ok := body[key]
	return ok
}

func inferEntityID(pt urn.ProtocolType, body map[string]any) string {
	header, _ := body[familyKeys[pt]].(map[string]any)
	keys := []string{"name", "id"}
	if pt == urn.Agent {
		keys = []string{"id", "name"}
	}
	for _, src := range []map[string]any{header, body} {
		for _, k := range keys {
			if s := stringField(src, k); s != "" {
				return s
			}
		}
	}
	if pt == urn.API {
		if info, ok := body["info"].(map[string]any); ok {
			return slug(stringField(info, "title"))
		}
	}
	return ""
}

func inferVersion(pt urn.ProtocolType, body map[string]any) (string, bool) {
	if s := stringField(body, "version"); s != "" {
		return s, true
	}
	if header, ok := body[familyKeys[pt]].(map[string]any); ok {
		if s := stringField(header, "version"); s != "" {
			return s, true
		}
	}
	return DefaultVersion, false
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64, int, int64:
		return fmt.Sprint(v)
	}
	return ""
}

// slug turns a free-form title into an entity id.
func slug(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteByte('-')
		}
	}
	return sb.String()
}
