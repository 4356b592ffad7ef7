package catalog

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/urn"
)

// ErrInvalidQuery is returned when a Find expression does not compile or does
// not evaluate to a boolean.
var ErrInvalidQuery = errors.New("invalid query")

// Query selects manifests. Empty fields match everything. Version matching
// ignores a leading "v".
//
// Expr is an optional CEL expression evaluated per manifest with the
// variables type, id, version, hash (strings) and body (map), for example
//
//	type == "data" && body.schema.fields.exists(f, body.schema.fields[f].pii == true)
type Query struct {
	Type    urn.ProtocolType `json:"type,omitempty"`
	ID      string           `json:"id,omitempty"`
	Version string           `json:"version,omitempty"`
	Expr    string           `json:"expr,omitempty"`
}

func newQueryEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("type", cel.StringType),
		cel.Variable("id", cel.StringType),
		cel.Variable("version", cel.StringType),
		cel.Variable("hash", cel.StringType),
		cel.Variable("body", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// Find returns the manifests matching q, in catalog order. An expression that
// errors on a particular manifest (for example a missing key) excludes that
// manifest rather than failing the query.
func (c *Catalog) Find(q Query) ([]*manifest.Manifest, error) {
	var prg cel.Program
	if q.Expr != "" {
		env, err := newQueryEnv()
		if err != nil {
			return nil, fmt.Errorf("query environment: %w", err)
		}
		ast, iss := env.Compile(q.Expr)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, iss.Err())
		}
		prg, err = env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
		}
	}

	out := []*manifest.Manifest{}
	for _, m := range c.items {
		if q.Type != "" && m.ProtocolType() != q.Type {
			continue
		}
		if q.ID != "" && m.EntityID() != q.ID {
			continue
		}
		if q.Version != "" && urn.StripV(m.Version()) != urn.StripV(q.Version) {
			continue
		}
		if prg != nil {
			val, _, err := prg.Eval(map[string]any{
				"type":    string(m.ProtocolType()),
				"id":      m.EntityID(),
				"version": m.Version(),
				"hash":    m.Hash(),
				"body":    m.Body(),
			})
			if err != nil {
				continue
			}
			match, ok := val.Value().(bool)
			if !ok {
				return nil, fmt.Errorf("%w: expression yields %s, not bool", ErrInvalidQuery, val.Type().TypeName())
			}
			if !match {
				continue
			}
		}
		out = append(out, m)
	}
	return out, nil
}
