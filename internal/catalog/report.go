package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"go.opentelemetry.io/otel/attribute"

	"github.com/zjrosen/protoreg/internal/tracing"
	"github.com/zjrosen/protoreg/internal/urn"
)

// Report summarizes a catalog.
type Report struct {
	GeneratedAt   time.Time                `json:"generatedAt"`
	Total         int                      `json:"total"`
	ByType        map[urn.ProtocolType]int `json:"byType"`
	Relationships []RelationshipEdge       `json:"relationships"`
	Validation    ValidationReport         `json:"validation"`
}

// Report counts, links and validates the catalog.
func (c *Catalog) Report(ctx context.Context, opts ValidateOptions) Report {
	ctx, span := tracing.Start(ctx, tracing.SpanCatalogReport, attribute.Int(tracing.AttrCatalogSize, len(c.items)))
	defer span.End()

	return Report{
		GeneratedAt:   time.Now().UTC(),
		Total:         len(c.items),
		ByType:        c.CountByType(),
		Relationships: c.Relationships(),
		Validation:    c.Validate(ctx, opts),
	}
}

// JSON renders the report as indented JSON.
func (r Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Markdown renders the report as a markdown document.
func (r Report) Markdown() string {
	var sb strings.Builder
	status := "valid"
	if !r.Validation.Valid {
		status = "invalid"
	}
	fmt.Fprintf(&sb, "# Catalog report\n\n")
	fmt.Fprintf(&sb, "%d manifests, %d relationships, catalog is **%s**.\n\n", r.Total, len(r.Relationships), status)

	sb.WriteString("## Manifests by type\n\n| Type | Count |\n|---|---|\n")
	for _, t := range urn.ProtocolTypes() {
		fmt.Fprintf(&sb, "| %s | %d |\n", t, r.ByType[t])
	}

	if len(r.Relationships) > 0 {
		sb.WriteString("\n## Relationships\n\n| Source | Kind | Target |\n|---|---|---|\n")
		for _, e := range r.Relationships {
			fmt.Fprintf(&sb, "| `%s` | %s | `%s` |\n", e.Source, e.Kind, e.Target)
		}
	}

	if len(r.Validation.CrossEntityValidation.Cycles) > 0 {
		sb.WriteString("\n## Cycles\n\n")
		for _, cycle := range r.Validation.CrossEntityValidation.Cycles {
			fmt.Fprintf(&sb, "- %s\n", strings.Join(cycle, " → "))
		}
	}
	if len(r.Validation.CrossEntityValidation.AmbiguousReferences) > 0 {
		sb.WriteString("\n## Ambiguous references\n\n")
		for _, a := range r.Validation.CrossEntityValidation.AmbiguousReferences {
			fmt.Fprintf(&sb, "- `%s` from `%s`: %s\n", a.Name, a.From, strings.Join(a.Candidates, ", "))
		}
	}

	if len(r.Validation.GovernanceChecks) > 0 {
		sb.WriteString("\n## Governance\n\n")
		for _, g := range r.Validation.GovernanceChecks {
			fmt.Fprintf(&sb, "- `%s` **%s**: %s (%s)\n", g.URN, g.Rule, g.Message, strings.Join(g.Fields, ", "))
		}
	}

	var issues []string
	for _, item := range r.Validation.ProtocolValidations {
		for _, is := range item.Issues {
			line := fmt.Sprintf("- `%s` %s [%s]", item.URN, is.Message, is.Severity)
			if is.Path != "" {
				line += " at `" + is.Path + "`"
			}
			issues = append(issues, line)
		}
	}
	if len(issues) > 0 {
		sb.WriteString("\n## Manifest issues\n\n")
		sb.WriteString(strings.Join(issues, "\n"))
		sb.WriteString("\n")
	}

	if len(r.Validation.PerformanceChecks) > 0 {
		sb.WriteString("\n## Performance\n\n")
		for _, s := range r.Validation.PerformanceChecks {
			fmt.Fprintf(&sb, "- %s: %d (threshold %d)\n", s.Metric, s.Value, s.Threshold)
		}
	}
	return sb.String()
}

// noMarginStyle removes glamour's document margins.
const noMarginStyle = `{
	"document": {
		"margin": 0,
		"block_prefix": "",
		"block_suffix": ""
	}
}`

var (
	validBadge   = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#1E1E2E")).Background(lipgloss.Color("#73F59F"))
	invalidBadge = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#1E1E2E")).Background(lipgloss.Color("#FF8787"))
)

// Pretty renders the report for a terminal. style is "dark", "light" or
// "notty"; empty means dark.
func (r Report) Pretty(width int, style string) (string, error) {
	if style == "" {
		style = "dark"
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithStylesFromJSONBytes([]byte(noMarginStyle)),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("create markdown renderer: %w", err)
	}
	body, err := renderer.Render(r.Markdown())
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}

	badge := validBadge.Render("VALID")
	if !r.Validation.Valid {
		badge = invalidBadge.Render("INVALID")
	}
	return lipgloss.JoinVertical(lipgloss.Left, badge, body), nil
}
