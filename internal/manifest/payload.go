package manifest

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/zjrosen/protoreg/internal/urn"
)

// Payload is the strongly typed view of a manifest body. The concrete type is
// one of *DataPayload, *APIPayload, *EventPayload, *AgentPayload or
// *SemanticPayload, selected by the manifest's protocol type.
type Payload interface {
	ProtocolType() urn.ProtocolType
}

// Lifecycle carries the status of an entity (active, deprecated, ...).
type Lifecycle struct {
	Status string `mapstructure:"status"`
}

// Header is the common name/version block at the top of a manifest.
type Header struct {
	ID        string    `mapstructure:"id"`
	Name      string    `mapstructure:"name"`
	Type      string    `mapstructure:"type"`
	Version   string    `mapstructure:"version"`
	Lifecycle Lifecycle `mapstructure:"lifecycle"`
}

// Reference points at another entity, either by URN or by raw id. In documents
// a reference may be a bare string or an object with type/id/urn keys.
type Reference struct {
	Type string `mapstructure:"type"`
	ID   string `mapstructure:"id"`
	Name string `mapstructure:"name"`
	URN  string `mapstructure:"urn"`
}

// Target returns the URN when present, otherwise the raw id or name.
func (r Reference) Target() string {
	switch {
	case r.URN != "":
		return r.URN
	case r.ID != "":
		return r.ID
	}
	return r.Name
}

// Field describes one schema field.
type Field struct {
	Type        string `mapstructure:"type"`
	Required    bool   `mapstructure:"required"`
	PII         bool   `mapstructure:"pii"`
	Description string `mapstructure:"description"`
}

// Governance holds policy and storage declarations.
type Governance struct {
	Policy struct {
		Classification string `mapstructure:"classification"`
	} `mapstructure:"policy"`
	StorageResidency struct {
		Region          string `mapstructure:"region"`
		EncryptedAtRest bool   `mapstructure:"encrypted_at_rest"`
	} `mapstructure:"storage_residency"`
}

// DataPayload is the typed body of a data manifest.
type DataPayload struct {
	Dataset Header `mapstructure:"dataset"`
	Schema  struct {
		PrimaryKey []string         `mapstructure:"primary_key"`
		Fields     map[string]Field `mapstructure:"fields"`
	} `mapstructure:"schema"`
	Lineage struct {
		Sources   []Reference `mapstructure:"sources"`
		Consumers []Reference `mapstructure:"consumers"`
	} `mapstructure:"lineage"`
	Governance Governance `mapstructure:"governance"`
	Operations struct {
		Refresh struct {
			Schedule   string `mapstructure:"schedule"`
			ExpectedBy string `mapstructure:"expected_by"`
		} `mapstructure:"refresh"`
	} `mapstructure:"operations"`
}

func (*DataPayload) ProtocolType() urn.ProtocolType { return urn.Data }

// PIIFields returns the sorted names of PII-flagged fields.
func (p *DataPayload) PIIFields() []string {
	return piiNames(p.Schema.Fields)
}

// APIField is a request or response field. The x- properties annotate PII and
// data references.
type APIField struct {
	Type     string `mapstructure:"type"`
	Required bool   `mapstructure:"required"`
	PII      bool   `mapstructure:"x-pii"`
	DataRef  string `mapstructure:"x-data-ref"`
}

// Endpoint is one API operation.
type Endpoint struct {
	Method  string `mapstructure:"method"`
	Path    string `mapstructure:"path"`
	Request struct {
		Fields map[string]APIField `mapstructure:"fields"`
	} `mapstructure:"request"`
	Response struct {
		Fields map[string]APIField `mapstructure:"fields"`
	} `mapstructure:"response"`
	Schema map[string]any `mapstructure:"schema"`
}

// APIPayload is the typed body of an API manifest.
type APIPayload struct {
	API       Header     `mapstructure:"api"`
	Endpoints []Endpoint `mapstructure:"endpoints"`
	Metadata  struct {
		Dependencies []Reference `mapstructure:"dependencies"`
	} `mapstructure:"metadata"`
	Governance Governance `mapstructure:"governance"`
}

func (*APIPayload) ProtocolType() urn.ProtocolType { return urn.API }

// PIIFields returns "METHOD path field" labels for every x-pii field.
func (p *APIPayload) PIIFields() []string {
	var out []string
	for _, ep := range p.Endpoints {
		for _, fields := range []map[string]APIField{ep.Request.Fields, ep.Response.Fields} {
			for name, f := range fields {
				if f.PII {
					out = append(out, fmt.Sprintf("%s %s %s", ep.Method, ep.Path, name))
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// DataRefs returns every x-data-ref annotation, from field declarations and
// anywhere inside endpoint schemas, deduplicated in first-seen order.
func (p *APIPayload) DataRefs() []string {
	var (
		out  []string
		seen = map[string]bool{}
	)
	add := func(ref string) {
		if ref != "" && !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	for _, ep := range p.Endpoints {
		for _, fields := range []map[string]APIField{ep.Request.Fields, ep.Response.Fields} {
			for _, name := range sortedKeys(fields) {
				add(fields[name].DataRef)
			}
		}
		collectDataRefs(ep.Schema, add)
	}
	return out
}

func collectDataRefs(v any, add func(string)) {
	switch node := v.(type) {
	case map[string]any:
		if ref, ok := node["x-data-ref"].(string); ok {
			add(ref)
		}
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectDataRefs(node[k], add)
		}
	case []any:
		for _, item := range node {
			collectDataRefs(item, add)
		}
	}
}

// WorkflowStep is one step of an event workflow.
type WorkflowStep struct {
	Name     string   `mapstructure:"name"`
	Consumes []string `mapstructure:"consumes"`
	Produces []string `mapstructure:"produces"`
}

// EventPayload is the typed body of an event manifest.
type EventPayload struct {
	Event  Header `mapstructure:"event"`
	Schema struct {
		Payload struct {
			Fields map[string]Field `mapstructure:"fields"`
		} `mapstructure:"payload"`
	} `mapstructure:"schema"`
	Delivery struct {
		Guarantee       string `mapstructure:"guarantee"`
		DeadLetterQueue any    `mapstructure:"dead_letter_queue"`
	} `mapstructure:"delivery"`
	Workflow struct {
		Steps []WorkflowStep `mapstructure:"steps"`
	} `mapstructure:"workflow"`
	Governance Governance `mapstructure:"governance"`
}

func (*EventPayload) ProtocolType() urn.ProtocolType { return urn.Event }

// PIIFields returns the sorted names of PII-flagged payload fields.
func (p *EventPayload) PIIFields() []string {
	return piiNames(p.Schema.Payload.Fields)
}

// HasDeadLetterQueue reports whether a DLQ is declared, either by name or as
// a true flag.
func (p *EventPayload) HasDeadLetterQueue() bool {
	switch v := p.Delivery.DeadLetterQueue.(type) {
	case string:
		return strings.TrimSpace(v) != ""
	case bool:
		return v
	case map[string]any:
		return len(v) > 0
	}
	return false
}

// BestEffort reports an explicit best-effort delivery guarantee.
func (p *EventPayload) BestEffort() bool {
	g := strings.ToLower(strings.ReplaceAll(p.Delivery.Guarantee, "_", "-"))
	return g == "best-effort"
}

// AgentPayload is the typed body of an agent manifest.
type AgentPayload struct {
	Agent        Header `mapstructure:"agent"`
	Capabilities struct {
		Tools     []Reference `mapstructure:"tools"`
		Resources []Reference `mapstructure:"resources"`
	} `mapstructure:"capabilities"`
	Relationships map[string][]Reference `mapstructure:"relationships"`
}

func (*AgentPayload) ProtocolType() urn.ProtocolType { return urn.Agent }

// SemanticPayload is the typed body of a semantic manifest.
type SemanticPayload struct {
	Semantic Header      `mapstructure:"semantic"`
	Bindings []Reference `mapstructure:"bindings"`
}

func (*SemanticPayload) ProtocolType() urn.ProtocolType { return urn.Semantic }

// Payload decodes the body into the variant for the manifest's protocol type.
// Decoding is weakly typed and ignores unknown keys, so only structurally
// incompatible bodies (for example a list where an object is expected) fail.
func (m *Manifest) Payload() (Payload, error) {
	var out Payload
	switch m.protocolType {
	case urn.Data:
		out = &DataPayload{}
	case urn.API:
		out = &APIPayload{}
	case urn.Event:
		out = &EventPayload{}
	case urn.Agent:
		out = &AgentPayload{}
	case urn.Semantic:
		out = &SemanticPayload{}
	default:
		return nil, fmt.Errorf("%w: %q", urn.ErrUnknownProtocol, m.protocolType)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.ComposeDecodeHookFunc(referenceHook),
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(m.body); err != nil {
		return nil, fmt.Errorf("%w: %s payload: %w", ErrDecode, m.protocolType, err)
	}
	return out, nil
}

var referenceType = reflect.TypeOf(Reference{})

// referenceHook accepts a bare string wherever a Reference is expected. A
// string in URN form fills URN, anything else fills ID.
func referenceHook(from, to reflect.Type, data any) (any, error) {
	if to != referenceType || from.Kind() != reflect.String {
		return data, nil
	}
	s, _ := data.(string)
	if urn.IsURN(s) {
		return map[string]any{"urn": s}, nil
	}
	return map[string]any{"id": s}, nil
}

func piiNames(fields map[string]Field) []string {
	var out []string
	for name, f := range fields {
		if f.PII {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
