package manifest

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is a manifest document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// Extensions lists document extensions in lookup order.
var Extensions = []string{".json", ".yaml", ".yml", ".toml"}

// FormatFromPath picks a format from a file extension. Unknown extensions are
// treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// Parse decodes a manifest document. YAML and TOML documents are normalized
// to the same generic tree a JSON document produces, so a manifest hashes the
// same regardless of its source encoding.
func Parse(data []byte, format Format) (*Manifest, error) {
	var (
		raw any
		err error
	)
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &raw)
	case FormatTOML:
		var doc map[string]any
		err = toml.Unmarshal(data, &doc)
		raw = doc
	case FormatJSON, "":
		body, jerr := decodeJSONObject(data)
		if jerr != nil {
			return nil, jerr
		}
		return fromBody(body)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", ErrDecode, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, format, err)
	}

	// Round-trip through JSON so integers become float64 and TOML dates become
	// strings, matching what a JSON source would yield.
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, format, err)
	}
	body, err := decodeJSONObject(normalized)
	if err != nil {
		return nil, err
	}
	return fromBody(body)
}

// Encode renders m in the requested format.
func Encode(m *Manifest, format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(m.body)
	case FormatTOML:
		return toml.Marshal(m.body)
	default:
		return json.MarshalIndent(m.body, "", "  ")
	}
}
