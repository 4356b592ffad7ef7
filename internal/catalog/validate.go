package catalog

import (
	"context"
	"fmt"

	"github.com/zjrosen/protoreg/internal/log"
	"github.com/zjrosen/protoreg/internal/manifest"
)

// DefaultScaleThreshold bounds catalog size and edge count when scale checks
// are enabled.
const DefaultScaleThreshold = 10_000

// Governance rules.
const (
	RuleDataEncryption    = "pii-encryption-at-rest"
	RuleEventDelivery     = "pii-event-delivery"
	RuleAPIClassification = "pii-api-classification"
)

// ValidateOptions configure Validate and Report.
type ValidateOptions struct {
	// Registry supplies per-manifest validators. Nil uses DefaultRegistry.
	Registry *Registry
	Cycles   CycleOptions
	// CheckScale enables the scale checks against ScaleThreshold.
	CheckScale     bool
	ScaleThreshold int
}

// GovernanceViolation is a PII handling rule a manifest breaks.
type GovernanceViolation struct {
	URN     string   `json:"urn"`
	Rule    string   `json:"rule"`
	Fields  []string `json:"fields"`
	Message string   `json:"message"`
}

// ScaleWarning flags a catalog dimension above the configured threshold.
// Scale warnings do not make a catalog invalid.
type ScaleWarning struct {
	Metric    string `json:"metric"`
	Value     int    `json:"value"`
	Threshold int    `json:"threshold"`
}

// CrossEntityValidation holds the findings that span manifests.
type CrossEntityValidation struct {
	Cycles              [][]string           `json:"cycles"`
	AmbiguousReferences []AmbiguousReference `json:"ambiguousReferences,omitempty"`
}

// ValidationReport is the system-wide validation outcome. Every category is
// computed independently; a failure in one never hides findings in another.
type ValidationReport struct {
	Valid                 bool                  `json:"valid"`
	ProtocolValidations   []ItemResult          `json:"protocolValidations"`
	CrossEntityValidation CrossEntityValidation `json:"crossEntityValidation"`
	GovernanceChecks      []GovernanceViolation `json:"governanceChecks"`
	PerformanceChecks     []ScaleWarning        `json:"performanceChecks"`
}

// InvalidItems counts items with at least one error.
func (r ValidationReport) InvalidItems() int {
	n := 0
	for _, item := range r.ProtocolValidations {
		if !item.Valid {
			n++
		}
	}
	return n
}

// Validate checks every manifest, the cross-entity graph and PII governance.
func (c *Catalog) Validate(ctx context.Context, opts ValidateOptions) ValidationReport {
	reg := opts.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}

	report := ValidationReport{
		ProtocolValidations: make([]ItemResult, 0, len(c.items)),
		GovernanceChecks:    []GovernanceViolation{},
		PerformanceChecks:   []ScaleWarning{},
	}
	for _, m := range c.items {
		report.ProtocolValidations = append(report.ProtocolValidations, reg.Validate(m))
	}

	cycles := c.DetectCycles(ctx, opts.Cycles)
	report.CrossEntityValidation = CrossEntityValidation{
		Cycles:              cycles.Cycles,
		AmbiguousReferences: cycles.AmbiguousReferences,
	}

	for _, m := range c.items {
		report.GovernanceChecks = append(report.GovernanceChecks, governanceViolations(m)...)
	}

	if opts.CheckScale {
		report.PerformanceChecks = append(report.PerformanceChecks, c.scaleWarnings(opts.ScaleThreshold)...)
	}

	report.Valid = report.InvalidItems() == 0 &&
		len(report.CrossEntityValidation.Cycles) == 0 &&
		len(report.GovernanceChecks) == 0
	log.Info(log.CatCatalog, "catalog validated",
		"items", len(report.ProtocolValidations),
		"invalid", report.InvalidItems(),
		"cycles", len(report.CrossEntityValidation.Cycles),
		"governance", len(report.GovernanceChecks),
		"valid", report.Valid)
	return report
}

func governanceViolations(m *manifest.Manifest) []GovernanceViolation {
	p, err := m.Payload()
	if err != nil {
		return nil
	}
	u := GenerateURN(m)

	switch v := p.(type) {
	case *manifest.DataPayload:
		if pii := v.PIIFields(); len(pii) > 0 && !v.Governance.StorageResidency.EncryptedAtRest {
			return []GovernanceViolation{{
				URN: u, Rule: RuleDataEncryption, Fields: pii,
				Message: "dataset stores PII without governance.storage_residency.encrypted_at_rest",
			}}
		}
	case *manifest.EventPayload:
		if pii := v.PIIFields(); len(pii) > 0 && !v.HasDeadLetterQueue() && !v.BestEffort() {
			return []GovernanceViolation{{
				URN: u, Rule: RuleEventDelivery, Fields: pii,
				Message: "event carries PII without a dead letter queue or best-effort delivery",
			}}
		}
	case *manifest.APIPayload:
		if pii := v.PIIFields(); len(pii) > 0 && v.Governance.Policy.Classification != "pii" {
			return []GovernanceViolation{{
				URN: u, Rule: RuleAPIClassification, Fields: pii,
				Message: fmt.Sprintf("api exposes x-pii fields but is classified %q", v.Governance.Policy.Classification),
			}}
		}
	}
	return nil
}

func (c *Catalog) scaleWarnings(threshold int) []ScaleWarning {
	if threshold <= 0 {
		threshold = DefaultScaleThreshold
	}
	var out []ScaleWarning
	check := func(metric string, n int) {
		if n > threshold {
			out = append(out, ScaleWarning{Metric: metric, Value: n, Threshold: threshold})
		}
	}

	var endpoints, events, datasets int
	var wide []ScaleWarning
	for _, m := range c.items {
		p, err := m.Payload()
		if err != nil {
			continue
		}
		switch v := p.(type) {
		case *manifest.DataPayload:
			datasets++
			if n := len(v.Schema.Fields); n > threshold {
				wide = append(wide, ScaleWarning{Metric: "fields:" + GenerateURN(m), Value: n, Threshold: threshold})
			}
		case *manifest.EventPayload:
			events++
		case *manifest.APIPayload:
			endpoints += len(v.Endpoints)
		}
	}

	check("manifests", len(c.items))
	check("relationships", len(c.Relationships()))
	check("endpoints", endpoints)
	check("events", events)
	check("datasets", datasets)
	return append(out, wide...)
}
