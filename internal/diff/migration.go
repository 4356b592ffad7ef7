package diff

import (
	"fmt"

	"github.com/zjrosen/protoreg/internal/manifest"
)

// MigrationPlan is advisory migration text derived from a diff. It is meant
// for people and tools to read, not to execute.
type MigrationPlan struct {
	Steps []string `json:"steps"`
	Notes []string `json:"notes"`
}

// GenerateMigration derives a migration plan for moving from a to b.
func GenerateMigration(a, b *manifest.Manifest) MigrationPlan {
	return PlanFor(Manifests(a, b))
}

// PlanFor derives a migration plan from an existing diff result.
func PlanFor(res Result) MigrationPlan {
	plan := MigrationPlan{Steps: []string{}, Notes: []string{}}
	seenNote := map[string]bool{}
	note := func(s string) {
		if !seenNote[s] {
			seenNote[s] = true
			plan.Notes = append(plan.Notes, s)
		}
	}

	for _, c := range res.Changes {
		changes := []Change{c}
		if _, ok := findField(c.tokens); !ok {
			changes = expandSubtree(c)
		}
		for _, fc := range changes {
			ref, ok := findField(fc.tokens)
			if !ok {
				continue
			}
			plan.Steps = append(plan.Steps, fieldSteps(ref, fc, note)...)
		}
	}

	for _, br := range res.Breaking {
		note(fmt.Sprintf("BREAKING: %s @ %s", br.Reason, br.Path))
	}
	return plan
}

func fieldSteps(ref fieldRef, c Change, note func(string)) []string {
	f := ref.name
	switch ref.property {
	case "":
		switch c.Kind {
		case Added:
			if truthy(propertyOf(c.To, "required")) {
				note("backfill required for " + f)
			}
			if truthy(propertyOf(c.To, "pii")) || truthy(propertyOf(c.To, "x-pii")) {
				note("policy re-classification required for " + f)
			}
			return []string{fmt.Sprintf("ADD COLUMN %s %s", f, columnType(propertyOf(c.To, "type")))}
		case Removed:
			return []string{"DROP COLUMN " + f}
		}
	case "type":
		if c.Kind == Modified || c.Kind == Added {
			return []string{fmt.Sprintf("ALTER COLUMN %s TYPE %s", f, columnType(c.To))}
		}
	case "required":
		if truthy(c.From) == truthy(c.To) {
			return nil
		}
		if truthy(c.To) {
			note("backfill required for " + f)
		}
		return []string{fmt.Sprintf("-- %s: required %t -> %t", f, truthy(c.From), truthy(c.To))}
	case "pii", "x-pii":
		if truthy(c.From) == truthy(c.To) {
			return nil
		}
		note("policy re-classification required for " + f)
		return []string{fmt.Sprintf("-- %s: pii %t -> %t", f, truthy(c.From), truthy(c.To))}
	}
	return nil
}

func columnType(v any) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return "unknown"
}
