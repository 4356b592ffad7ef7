package testutil

import (
	"github.com/zjrosen/protoreg/internal/canon"
)

// Option edits a fixture body. Options never mutate their input; they return
// the updated body.
type Option func(body map[string]any) map[string]any

// Set stores value at a dot/bracket path.
func Set(path string, value any) Option {
	p := canon.MustParsePath(path)
	return func(body map[string]any) map[string]any {
		out, err := p.Set(body, value)
		if err != nil {
			panic(err)
		}
		return out.(map[string]any)
	}
}

// appendAt appends items to the array at path, creating it when missing.
func appendAt(path string, items ...any) Option {
	p := canon.MustParsePath(path)
	return func(body map[string]any) map[string]any {
		existing, _ := p.Get(body)
		list, _ := existing.([]any)
		next := make([]any, 0, len(list)+len(items))
		next = append(next, list...)
		next = append(next, items...)
		return Set(path, next)(body)
	}
}

// family returns the header key present in body.
func family(body map[string]any) string {
	for _, k := range []string{"dataset", "api", "event", "agent", "semantic"} {
		if _, ok := body[k]; ok {
			return k
		}
	}
	return "dataset"
}

// Version sets the top-level manifest version.
func Version(v string) Option {
	return Set("version", v)
}

// Status sets the lifecycle status in the manifest header.
func Status(s string) Option {
	return func(body map[string]any) map[string]any {
		return Set(family(body)+".lifecycle.status", s)(body)
	}
}

// Field adds a data schema field.
func Field(name, typ string, required, pii bool) Option {
	return Set("schema.fields["+name+"]", map[string]any{
		"type":     typ,
		"required": required,
		"pii":      pii,
	})
}

// PrimaryKey sets the data primary key columns.
func PrimaryKey(cols ...string) Option {
	list := make([]any, len(cols))
	for i, c := range cols {
		list[i] = c
	}
	return Set("schema.primary_key", list)
}

// Consumer adds a lineage consumer of the given type ("model", "service", ...).
func Consumer(typ, id string) Option {
	return appendAt("lineage.consumers", map[string]any{"type": typ, "id": id})
}

// Source adds an upstream lineage source.
func Source(typ, id string) Option {
	return appendAt("lineage.sources", map[string]any{"type": typ, "id": id})
}

// Encrypted sets governance.storage_residency.encrypted_at_rest.
func Encrypted(v bool) Option {
	return Set("governance.storage_residency.encrypted_at_rest", v)
}

// Classification sets governance.policy.classification.
func Classification(c string) Option {
	return Set("governance.policy.classification", c)
}

// Refresh sets operations.refresh.schedule.
func Refresh(schedule string) Option {
	return Set("operations.refresh.schedule", schedule)
}

// APIField describes one request or response field of an endpoint fixture.
type APIField struct {
	Name    string
	Type    string
	PII     bool
	DataRef string
}

// Endpoint adds an API endpoint with response fields.
func Endpoint(method, path string, fields ...APIField) Option {
	resp := map[string]any{}
	for _, f := range fields {
		def := map[string]any{"type": f.Type}
		if f.PII {
			def["x-pii"] = true
		}
		if f.DataRef != "" {
			def["x-data-ref"] = f.DataRef
		}
		resp[f.Name] = def
	}
	return appendAt("endpoints", map[string]any{
		"method":   method,
		"path":     path,
		"response": map[string]any{"fields": resp},
	})
}

// Dependency adds an API metadata dependency.
func Dependency(ref string) Option {
	return appendAt("metadata.dependencies", ref)
}

// PayloadField adds an event payload field.
func PayloadField(name, typ string, pii bool) Option {
	return Set("schema.payload.fields["+name+"]", map[string]any{"type": typ, "pii": pii})
}

// DeadLetterQueue sets delivery.dead_letter_queue.
func DeadLetterQueue(q string) Option {
	return Set("delivery.dead_letter_queue", q)
}

// Guarantee sets delivery.guarantee.
func Guarantee(g string) Option {
	return Set("delivery.guarantee", g)
}

// Step adds an event workflow step.
func Step(name string, consumes, produces []string) Option {
	return appendAt("workflow.steps", map[string]any{
		"name":     name,
		"consumes": anySlice(consumes),
		"produces": anySlice(produces),
	})
}

// Tool adds an agent capability tool reference.
func Tool(ref string) Option {
	return appendAt("capabilities.tools", ref)
}

// Binding adds a semantic binding reference.
func Binding(ref string) Option {
	return appendAt("bindings", ref)
}

func anySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
