package catalog

import (
	"context"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/tracing"
	"github.com/zjrosen/protoreg/internal/urn"
)

// CycleOptions tune neighbour resolution during cycle detection.
type CycleOptions struct {
	// Strict refuses to guess when a bare name matches manifests of more than
	// one protocol type. Such names are reported as ambiguous instead of
	// being resolved to the first match.
	Strict bool `json:"strict,omitempty"`
}

// AmbiguousReference is a bare name that strict mode declined to resolve.
type AmbiguousReference struct {
	From       string   `json:"from"`
	Name       string   `json:"name"`
	Candidates []string `json:"candidates"`
}

// CycleReport lists cycles as URN paths that start and end on the same node.
type CycleReport struct {
	Cycles              [][]string           `json:"cycles"`
	AmbiguousReferences []AmbiguousReference `json:"ambiguousReferences,omitempty"`
}

// HasCycles reports whether any cycle was found.
func (r CycleReport) HasCycles() bool { return len(r.Cycles) > 0 }

// DetectCycles finds cycles in the graph formed by data lineage consumers,
// event workflow outputs and API dependencies. Nodes are generated URNs.
func (c *Catalog) DetectCycles(ctx context.Context, opts CycleOptions) CycleReport {
	_, span := tracing.Start(ctx, tracing.SpanCatalogCycles, attribute.Int(tracing.AttrCatalogSize, len(c.items)))
	defer span.End()

	g := c.buildGraph(opts)
	report := CycleReport{Cycles: [][]string{}, AmbiguousReferences: g.ambiguous}

	visited := map[string]bool{}
	onStack := map[string]bool{}
	var stack []string

	var visit func(node string)
	visit = func(node string) {
		visited[node] = true
		onStack[node] = true
		stack = append(stack, node)

		for _, next := range g.adj[node] {
			switch {
			case onStack[next]:
				start := slices.Index(stack, next)
				cycle := append(slices.Clone(stack[start:]), next)
				report.Cycles = append(report.Cycles, cycle)
			case !visited[next]:
				if _, known := g.adj[next]; known {
					visit(next)
				}
			}
		}

		stack = stack[:len(stack)-1]
		onStack[node] = false
	}

	for _, node := range g.order {
		if !visited[node] {
			visit(node)
		}
	}

	span.SetAttributes(attribute.Int(tracing.AttrCycleCount, len(report.Cycles)))
	return report
}

type graph struct {
	order     []string
	adj       map[string][]string
	ambiguous []AmbiguousReference
}

func (c *Catalog) buildGraph(opts CycleOptions) graph {
	g := graph{adj: make(map[string][]string, len(c.items))}
	for _, m := range c.items {
		node := GenerateURN(m)
		if _, seen := g.adj[node]; !seen {
			g.order = append(g.order, node)
			g.adj[node] = nil
		}
	}

	for _, m := range c.items {
		node := GenerateURN(m)
		for _, ref := range cycleRefs(m) {
			next, ok := c.resolveNeighbour(&g, node, ref, opts)
			if ok {
				g.adj[node] = append(g.adj[node], next)
			}
		}
	}
	return g
}

// cycleRefs lists the outgoing references that participate in cycle
// detection. Undecodable manifests contribute none.
func cycleRefs(m *manifest.Manifest) []string {
	p, err := m.Payload()
	if err != nil {
		return nil
	}
	var refs []string
	switch v := p.(type) {
	case *manifest.DataPayload:
		for _, ref := range v.Lineage.Consumers {
			refs = append(refs, ref.Target())
		}
	case *manifest.EventPayload:
		for _, step := range v.Workflow.Steps {
			refs = append(refs, step.Produces...)
		}
	case *manifest.APIPayload:
		for _, ref := range v.Metadata.Dependencies {
			refs = append(refs, ref.Target())
		}
	}
	return refs
}

// resolveNeighbour maps a reference to a graph node. URN references are used
// as written when they name a node, or mapped onto the catalog entry with the
// same identity. Bare names match on entity id, first match wins, unless
// strict mode finds candidates of several protocol types.
func (c *Catalog) resolveNeighbour(g *graph, from, ref string, opts CycleOptions) (string, bool) {
	if ref == "" {
		return "", false
	}
	if u, err := urn.Parse(ref); err == nil {
		if _, ok := g.adj[ref]; ok {
			return ref, true
		}
		for _, m := range c.items {
			if m.ProtocolType() == u.Type && m.EntityID() == u.ID {
				return GenerateURN(m), true
			}
		}
		return ref, true
	}

	first, ok := c.ByName(ref)
	if !ok {
		return "", false
	}
	if opts.Strict {
		var candidates []string
		types := map[urn.ProtocolType]bool{}
		for _, m := range c.items {
			if m.EntityID() == ref {
				candidates = append(candidates, GenerateURN(m))
				types[m.ProtocolType()] = true
			}
		}
		if len(types) > 1 {
			g.ambiguous = append(g.ambiguous, AmbiguousReference{From: from, Name: ref, Candidates: candidates})
			return "", false
		}
	}
	return GenerateURN(first), true
}
