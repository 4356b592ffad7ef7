package catalog

import (
	"fmt"
	"slices"
	"strings"

	"github.com/zjrosen/protoreg/internal/manifest"
	"github.com/zjrosen/protoreg/internal/urn"
)

// Severity of a validation issue. Only errors make an item invalid.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding from a validator.
type Issue struct {
	Validator string   `json:"validator"`
	Severity  Severity `json:"severity"`
	Path      string   `json:"path,omitempty"`
	Message   string   `json:"message"`
}

// ValidatorFunc checks one manifest.
type ValidatorFunc func(m *manifest.Manifest, p manifest.Payload) []Issue

type namedValidator struct {
	name string
	fn   ValidatorFunc
}

// Registry maps protocol types to validators. A zero Registry has none;
// DefaultRegistry returns one with the built-in checks.
type Registry struct {
	validators map[urn.ProtocolType][]namedValidator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{validators: map[urn.ProtocolType][]namedValidator{}}
}

// Register adds fn under name for protocol type t. Registering an existing
// name for the same type replaces it.
func (r *Registry) Register(t urn.ProtocolType, name string, fn ValidatorFunc) {
	if r.validators == nil {
		r.validators = map[urn.ProtocolType][]namedValidator{}
	}
	list := r.validators[t]
	for i, v := range list {
		if v.name == name {
			list[i].fn = fn
			return
		}
	}
	r.validators[t] = append(list, namedValidator{name: name, fn: fn})
}

// Names lists the validators registered for t, in registration order.
func (r *Registry) Names(t urn.ProtocolType) []string {
	var out []string
	for _, v := range r.validators[t] {
		out = append(out, v.name)
	}
	return out
}

// ItemResult is the validation outcome for one manifest.
type ItemResult struct {
	URN    string  `json:"urn"`
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// Validate runs every validator registered for m's protocol type. A body that
// cannot be decoded is itself an error.
func (r *Registry) Validate(m *manifest.Manifest) ItemResult {
	res := ItemResult{URN: GenerateURN(m), Issues: []Issue{}}
	p, err := m.Payload()
	if err != nil {
		res.Issues = append(res.Issues, Issue{Validator: "decode", Severity: SeverityError, Message: err.Error()})
		return res
	}
	for _, v := range r.validators[m.ProtocolType()] {
		for _, issue := range v.fn(m, p) {
			issue.Validator = v.name
			if issue.Severity == "" {
				issue.Severity = SeverityError
			}
			res.Issues = append(res.Issues, issue)
		}
	}
	res.Valid = !slices.ContainsFunc(res.Issues, func(i Issue) bool { return i.Severity == SeverityError })
	return res
}

var (
	lifecycleStatuses  = []string{"active", "deprecated", "retired", "draft"}
	httpMethods        = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}
	deliveryGuarantees = []string{"at-least-once", "at-most-once", "exactly-once", "best-effort"}
)

// DefaultRegistry returns a registry with presence and enum checks for every
// protocol type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range urn.ProtocolTypes() {
		r.Register(t, "version", checkVersion)
	}

	r.Register(urn.Data, "schema", func(_ *manifest.Manifest, p manifest.Payload) []Issue {
		d := p.(*manifest.DataPayload)
		issues := checkLifecycle("dataset.lifecycle.status", d.Dataset.Lifecycle.Status)
		if len(d.Schema.Fields) == 0 {
			issues = append(issues, Issue{Path: "schema.fields", Message: "dataset declares no fields"})
		}
		for _, key := range d.Schema.PrimaryKey {
			if _, ok := d.Schema.Fields[key]; !ok && len(d.Schema.Fields) > 0 {
				issues = append(issues, Issue{Path: "schema.primary_key", Message: fmt.Sprintf("primary key %q is not a declared field", key)})
			}
		}
		return issues
	})

	r.Register(urn.API, "endpoints", func(_ *manifest.Manifest, p manifest.Payload) []Issue {
		a := p.(*manifest.APIPayload)
		issues := checkLifecycle("api.lifecycle.status", a.API.Lifecycle.Status)
		if len(a.Endpoints) == 0 {
			issues = append(issues, Issue{Path: "endpoints", Message: "api declares no endpoints"})
		}
		for i, ep := range a.Endpoints {
			path := fmt.Sprintf("endpoints[%d]", i)
			if !slices.Contains(httpMethods, strings.ToUpper(ep.Method)) {
				issues = append(issues, Issue{Path: path + ".method", Message: fmt.Sprintf("unknown HTTP method %q", ep.Method)})
			}
			if ep.Path == "" {
				issues = append(issues, Issue{Path: path + ".path", Message: "endpoint path is required"})
			}
		}
		return issues
	})

	r.Register(urn.Event, "payload", func(_ *manifest.Manifest, p manifest.Payload) []Issue {
		e := p.(*manifest.EventPayload)
		issues := checkLifecycle("event.lifecycle.status", e.Event.Lifecycle.Status)
		if len(e.Schema.Payload.Fields) == 0 {
			issues = append(issues, Issue{Path: "schema.payload.fields", Message: "event declares no payload fields"})
		}
		if g := normalizeGuarantee(e.Delivery.Guarantee); g != "" && !slices.Contains(deliveryGuarantees, g) {
			issues = append(issues, Issue{Path: "delivery.guarantee", Message: fmt.Sprintf("unknown delivery guarantee %q", e.Delivery.Guarantee)})
		}
		return issues
	})

	r.Register(urn.Agent, "lifecycle", func(_ *manifest.Manifest, p manifest.Payload) []Issue {
		return checkLifecycle("agent.lifecycle.status", p.(*manifest.AgentPayload).Agent.Lifecycle.Status)
	})
	r.Register(urn.Semantic, "lifecycle", func(_ *manifest.Manifest, p manifest.Payload) []Issue {
		return checkLifecycle("semantic.lifecycle.status", p.(*manifest.SemanticPayload).Semantic.Lifecycle.Status)
	})
	return r
}

func checkVersion(m *manifest.Manifest, _ manifest.Payload) []Issue {
	if !m.VersionDeclared() {
		return []Issue{{Severity: SeverityWarning, Path: "version", Message: "no version declared, defaulting to " + m.Version()}}
	}
	if _, err := urn.ParseVersion(m.Version()); err != nil {
		return []Issue{{Path: "version", Message: fmt.Sprintf("version %q is not MAJOR.MINOR.PATCH", m.Version())}}
	}
	return nil
}

func checkLifecycle(path, status string) []Issue {
	if status == "" || slices.Contains(lifecycleStatuses, strings.ToLower(status)) {
		return nil
	}
	return []Issue{{Path: path, Message: fmt.Sprintf("unknown lifecycle status %q", status)}}
}

func normalizeGuarantee(g string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(g), "_", "-"))
}
