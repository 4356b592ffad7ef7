// Package urn parses and builds manifest identities of the form
//
//	urn:proto:{protocolType}:{entityId}[@{version}][#{fragment}]
//
// and implements the version compatibility rule used during resolution.
package urn

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Identity errors
var (
	ErrInvalidFormat   = errors.New("invalid URN format")
	ErrUnknownProtocol = errors.New("unknown protocol type")
)

// Latest is the version sentinel used when a URN carries no version.
const Latest = "latest"

// Prefix starts every URN.
const Prefix = "urn:proto:"

// ProtocolType is the manifest family a URN names.
type ProtocolType string

const (
	Data     ProtocolType = "data"
	Event    ProtocolType = "event"
	API      ProtocolType = "api"
	Agent    ProtocolType = "agent"
	Semantic ProtocolType = "semantic"
)

// ProtocolTypes lists every known protocol type in a stable order.
func ProtocolTypes() []ProtocolType {
	return []ProtocolType{Data, Event, API, Agent, Semantic}
}

// Valid reports whether t is one of the known protocol types.
func (t ProtocolType) Valid() bool {
	switch t {
	case Data, Event, API, Agent, Semantic:
		return true
	}
	return false
}

// Entity returns the entity kind that manifests of this type describe.
func (t ProtocolType) Entity() string {
	switch t {
	case Data:
		return "dataset"
	case API:
		return "api"
	case Event:
		return "event"
	case Agent:
		return "agent"
	case Semantic:
		return "semantic"
	}
	return ""
}

// ParseProtocolType validates s as a protocol type.
func ParseProtocolType(s string) (ProtocolType, error) {
	t := ProtocolType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
	}
	return t, nil
}

var urnPattern = regexp.MustCompile(
	`^urn:proto:(data|event|api|agent|semantic):([A-Za-z0-9._-]+)(?:@(v?[0-9]+\.[0-9]+\.[0-9]+|latest))?(?:#([\w./\[\]-]+))?$`,
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// URN is a parsed manifest identity.
type URN struct {
	Type     ProtocolType `json:"protocolType"`
	ID       string       `json:"id"`
	Version  string       `json:"version"`
	Fragment string       `json:"fragment,omitempty"`
}

// Parse parses s. It returns ErrInvalidFormat for anything outside the URN
// grammar. A missing version becomes Latest.
func Parse(s string) (*URN, error) {
	m := urnPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	version := m[3]
	if version == "" {
		version = Latest
	}
	return &URN{
		Type:     ProtocolType(m[1]),
		ID:       m[2],
		Version:  version,
		Fragment: m[4],
	}, nil
}

// IsURN reports whether s parses as a URN.
func IsURN(s string) bool {
	return urnPattern.MatchString(s)
}

// Build renders a URN string from its parts. An empty version becomes Latest.
// Build is the left inverse of Parse for every string it produces.
func Build(t ProtocolType, id, version string) string {
	if version == "" {
		version = Latest
	}
	return fmt.Sprintf("%s%s:%s@%s", Prefix, t, id, version)
}

// New validates parts and returns the URN they describe.
func New(t ProtocolType, id, version string) (*URN, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, t)
	}
	if !idPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: entity id %q", ErrInvalidFormat, id)
	}
	return Parse(Build(t, id, version))
}

// String renders the URN including its fragment.
func (u URN) String() string {
	s := Build(u.Type, u.ID, u.Version)
	if u.Fragment != "" {
		s += "#" + u.Fragment
	}
	return s
}

// Base renders the URN without its fragment.
func (u URN) Base() string {
	return Build(u.Type, u.ID, u.Version)
}

// Entity returns the entity kind derived from the protocol type.
func (u URN) Entity() string {
	return u.Type.Entity()
}

// IsLatest reports whether the URN requests the latest revision.
func (u URN) IsLatest() bool {
	return u.Version == "" || u.Version == Latest
}

// SameIdentity reports whether u and other name the same entity, possibly at
// different revisions.
func (u URN) SameIdentity(other URN) bool {
	return u.Type == other.Type && u.ID == other.ID
}

// WithVersion returns a copy of u at version.
func (u URN) WithVersion(version string) URN {
	if version == "" {
		version = Latest
	}
	u.Version = version
	return u
}

// WithFragment returns a copy of u selecting fragment.
func (u URN) WithFragment(fragment string) URN {
	u.Fragment = fragment
	return u
}
