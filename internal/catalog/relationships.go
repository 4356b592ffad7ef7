package catalog

import (
	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/manifest"
)

// EdgeKind names the document construct an edge was drawn from.
type EdgeKind string

const (
	EdgeModelConsumer    EdgeKind = "model-consumer"
	EdgeExternalConsumer EdgeKind = "external-consumer"
	EdgeUpstreamSource   EdgeKind = "upstream-source"
	EdgeDataReference    EdgeKind = "data-reference"
	EdgeWorkflowProduces EdgeKind = "workflow-produces"
	EdgeWorkflowConsumes EdgeKind = "workflow-consumes"
	EdgeDependency       EdgeKind = "dependency"
	EdgeCapability       EdgeKind = "capability"
)

// Relationship verbs.
const (
	RelConsumes   = "consumes"
	RelSourcedBy  = "sourced-from"
	RelReferences = "references"
	RelProduces   = "produces"
	RelDependsOn  = "depends-on"
	RelUses       = "uses"
)

// RelationshipEdge links a manifest, by generated URN, to a raw target id or
// URN as written in the document.
type RelationshipEdge struct {
	Source       string   `json:"source"`
	Target       string   `json:"target"`
	Kind         EdgeKind `json:"kind"`
	Relationship string   `json:"relationship"`
}

// Relationships extracts every edge in the catalog, in catalog order.
// Manifests whose bodies do not decode are skipped.
func (c *Catalog) Relationships() []RelationshipEdge {
	edges := []RelationshipEdge{}
	for _, m := range c.items {
		p, err := m.Payload()
		if err != nil {
			log.Warn(log.CatCatalog, "skipping undecodable manifest", "urn", GenerateURN(m), "error", err)
			continue
		}
		edges = append(edges, edgesOf(GenerateURN(m), p)...)
	}
	return edges
}

func edgesOf(source string, p manifest.Payload) []RelationshipEdge {
	var out []RelationshipEdge
	add := func(target string, kind EdgeKind, rel string) {
		if target != "" {
			out = append(out, RelationshipEdge{Source: source, Target: target, Kind: kind, Relationship: rel})
		}
	}

	switch v := p.(type) {
	case *manifest.DataPayload:
		for _, ref := range v.Lineage.Consumers {
			kind := EdgeExternalConsumer
			if ref.Type == "model" {
				kind = EdgeModelConsumer
			}
			add(ref.Target(), kind, RelConsumes)
		}
		for _, ref := range v.Lineage.Sources {
			add(ref.Target(), EdgeUpstreamSource, RelSourcedBy)
		}
	case *manifest.APIPayload:
		for _, ref := range v.DataRefs() {
			add(ref, EdgeDataReference, RelReferences)
		}
		for _, ref := range v.Metadata.Dependencies {
			add(ref.Target(), EdgeDependency, RelDependsOn)
		}
	case *manifest.EventPayload:
		for _, step := range v.Workflow.Steps {
			for _, t := range step.Produces {
				add(t, EdgeWorkflowProduces, RelProduces)
			}
			for _, t := range step.Consumes {
				add(t, EdgeWorkflowConsumes, RelConsumes)
			}
		}
	case *manifest.AgentPayload:
		for _, ref := range v.Capabilities.Tools {
			add(ref.Target(), EdgeCapability, RelUses)
		}
		for _, ref := range v.Capabilities.Resources {
			add(ref.Target(), EdgeCapability, RelUses)
		}
	}
	return out
}
