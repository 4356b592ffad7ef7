package diff

import (
	"sort"
	"strings"

	"github.com/zjrosen/protoreg/internal/canon"
)

// Breaking reasons.
const (
	ReasonPrimaryKeyChanged  = "primary key changed"
	ReasonFieldTypeChanged   = "field type changed"
	ReasonFieldRemoved       = "field removed"
	ReasonRequiredChanged    = "required flag changed"
	ReasonPIIChanged         = "pii flag changed"
	ReasonRequiredFieldAdded = "required field added"
	ReasonLifecycleDowngrade = "lifecycle downgrade"
)

// fieldRef locates a schema field inside a change path: the field name and
// whatever property path follows it. Any "fields" object counts, so data
// schemas, event payloads and API request/response fields share the rules.
type fieldRef struct {
	name     string
	property string // "" when the change is the whole field
}

func findField(p canon.Path) (fieldRef, bool) {
	for i := len(p) - 2; i >= 0; i-- {
		if p[i].Kind == canon.FieldToken && p[i].Field == "fields" && p[i+1].Kind == canon.FieldToken {
			ref := fieldRef{name: p[i+1].Field}
			if rest := p[i+2:]; len(rest) > 0 {
				ref.property = rest.String()
			}
			return ref, true
		}
	}
	return fieldRef{}, false
}

// fieldsContainer reports whether p ends at a "fields" object itself.
func fieldsContainer(p canon.Path) bool {
	n := len(p)
	return n > 0 && p[n-1].Kind == canon.FieldToken && p[n-1].Field == "fields"
}

func lastField(p canon.Path) string {
	if n := len(p); n > 0 && p[n-1].Kind == canon.FieldToken {
		return p[n-1].Field
	}
	return ""
}

// classifyBreaking applies the breaking rule table to one change. Adding or
// dropping a subtree that holds fields (a fields object, a schema, a whole
// payload) is expanded to its member fields and primary keys first.
func classifyBreaking(c Change) []Breaking {
	var out []Breaking
	add := func(path, reason string, from, to any) {
		out = append(out, Breaking{Path: path, Reason: reason, From: from, To: to})
	}

	for _, tok := range c.tokens {
		if tok.Kind == canon.FieldToken && tok.Field == "primary_key" {
			add(c.Path, ReasonPrimaryKeyChanged, c.From, c.To)
			break
		}
	}

	ref, inField := findField(c.tokens)
	if !inField {
		for _, m := range expandSubtree(c) {
			out = append(out, classifyBreaking(m)...)
		}
	}

	if inField {
		switch ref.property {
		case "":
			if c.Kind == Removed {
				add(c.Path, ReasonFieldRemoved, c.From, nil)
			}
			if c.Kind == Added && truthy(propertyOf(c.To, "required")) {
				add(c.Path, ReasonRequiredFieldAdded, nil, c.To)
			}
		case "type":
			if c.Kind == Modified || c.Kind == Removed {
				add(c.Path, ReasonFieldTypeChanged, c.From, c.To)
			}
		case "required":
			if truthy(c.To) && !truthy(c.From) {
				add(c.Path, ReasonRequiredChanged, c.From, c.To)
			}
		case "pii", "x-pii":
			if truthy(c.From) != truthy(c.To) {
				add(c.Path, ReasonPIIChanged, c.From, c.To)
			}
		}
	}

	if lastField(c.tokens) == "status" && len(c.tokens) >= 2 {
		parent := c.tokens[len(c.tokens)-2]
		if parent.Kind == canon.FieldToken && parent.Field == "lifecycle" &&
			strings.EqualFold(str(c.From), "active") && strings.EqualFold(str(c.To), "deprecated") {
			add(c.Path, ReasonLifecycleDowngrade, c.From, c.To)
		}
	}
	return out
}

// expandSubtree turns the addition or removal of a container into one change
// per field found in any fields object beneath it, plus one per primary_key.
// A change that already ends at a fields object expands to its members.
func expandSubtree(c Change) []Change {
	var src any
	switch c.Kind {
	case Added:
		src = c.To
	case Removed:
		src = c.From
	default:
		return nil
	}

	var out []Change
	emit := func(p canon.Path, v any) {
		m := Change{Path: p.String(), Kind: c.Kind, tokens: p}
		if c.Kind == Added {
			m.To = v
		} else {
			m.From = v
		}
		out = append(out, m)
	}
	members := func(p canon.Path, v any) bool {
		fields, ok := v.(map[string]any)
		if !ok {
			return false
		}
		for _, name := range sortedKeys(fields) {
			emit(p.Field(name), fields[name])
		}
		return true
	}

	var walk func(p canon.Path, v any)
	walk = func(p canon.Path, v any) {
		switch t := v.(type) {
		case map[string]any:
			for _, k := range sortedKeys(t) {
				child := p.Field(k)
				if k == "fields" && members(child, t[k]) {
					continue
				}
				if k == "primary_key" {
					emit(child, t[k])
					continue
				}
				walk(child, t[k])
			}
		case []any:
			for i, e := range t {
				walk(p.Index(i), e)
			}
		}
	}

	if fieldsContainer(c.tokens) && members(c.tokens, src) {
		return out
	}
	walk(c.tokens, src)
	return out
}

// isSignificant reports paths under governance, lineage or operations.refresh.
func isSignificant(p canon.Path) bool {
	if len(p) == 0 || p[0].Kind != canon.FieldToken {
		return false
	}
	switch p[0].Field {
	case "governance", "lineage":
		return true
	case "operations":
		if len(p) == 1 {
			return false
		}
		return p[1].Kind == canon.FieldToken && strings.HasPrefix(p[1].Field, "refresh")
	}
	return false
}

func propertyOf(v any, key string) any {
	if m, ok := v.(map[string]any); ok {
		return m[key]
	}
	return nil
}

func truthy(v any) bool {
	b, ok := v.(bool)
	return ok && b
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
