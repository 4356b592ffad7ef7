// Package canon provides deterministic canonical encoding of JSON-like values,
// content hashing over that encoding, cycle-safe deep copies, and parsed
// dot/bracket paths into generic value trees.
//
// A generic value tree is what encoding/json produces when decoding into an
// interface: map[string]any, []any, string, float64, bool and nil. Other Go
// values (structs, typed maps and slices, integers) are accepted and projected
// into that shape before encoding.
package canon

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// CircularMarker replaces a container that is reached again while it is still
// being encoded.
const CircularMarker = "[Circular]"

// Canonicalize returns the canonical text form of v. Object keys are sorted,
// array order is kept, and primitives use a fixed JSON form, so structurally
// equal values always produce identical strings.
func Canonicalize(v any) string {
	var sb strings.Builder
	e := encoder{sb: &sb, stack: make(map[identity]bool)}
	e.encode(v)
	return sb.String()
}

// identity names a container by its backing storage. Slices also carry their
// length because a sub-slice shares its parent's pointer.
type identity struct {
	ptr uintptr
	n   int
}

func identityOf(v any) identity {
	rv := reflect.ValueOf(v)
	id := identity{ptr: rv.Pointer()}
	if rv.Kind() == reflect.Slice {
		id.n = rv.Len()
	}
	return id
}

type encoder struct {
	sb    *strings.Builder
	stack map[identity]bool
}

func (e *encoder) encode(v any) {
	switch val := v.(type) {
	case nil:
		e.sb.WriteString("null")
	case string:
		e.sb.WriteString(quote(val))
	case bool:
		if val {
			e.sb.WriteString("true")
		} else {
			e.sb.WriteString("false")
		}
	case float64:
		e.sb.WriteString(formatFloat(val))
	case float32:
		e.sb.WriteString(formatFloat(float64(val)))
	case int:
		e.sb.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		e.sb.WriteString(strconv.FormatInt(val, 10))
	case int32:
		e.sb.WriteString(strconv.FormatInt(int64(val), 10))
	case uint:
		e.sb.WriteString(strconv.FormatUint(uint64(val), 10))
	case uint64:
		e.sb.WriteString(strconv.FormatUint(val, 10))
	case json.Number:
		if f, err := val.Float64(); err == nil {
			e.sb.WriteString(formatFloat(f))
		} else {
			e.sb.WriteString(quote(val.String()))
		}
	case map[string]any:
		e.encodeMap(val)
	case []any:
		e.encodeSlice(val)
	case map[any]any:
		e.encodeMap(stringKeys(val))
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(val, &decoded); err != nil {
			e.sb.WriteString("null")
			return
		}
		e.encode(decoded)
	default:
		e.encode(project(v))
	}
}

func (e *encoder) encodeMap(m map[string]any) {
	if m == nil {
		e.sb.WriteString("null")
		return
	}
	id := identityOf(m)
	if e.stack[id] {
		e.sb.WriteString(quote(CircularMarker))
		return
	}
	e.stack[id] = true
	defer delete(e.stack, id)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	e.sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			e.sb.WriteByte(',')
		}
		e.sb.WriteString(quote(k))
		e.sb.WriteByte(':')
		e.encode(m[k])
	}
	e.sb.WriteByte('}')
}

func (e *encoder) encodeSlice(s []any) {
	if s == nil {
		e.sb.WriteString("[]")
		return
	}
	if len(s) > 0 {
		id := identityOf(s)
		if e.stack[id] {
			e.sb.WriteString(quote(CircularMarker))
			return
		}
		e.stack[id] = true
		defer delete(e.stack, id)
	}

	e.sb.WriteByte('[')
	for i, item := range s {
		if i > 0 {
			e.sb.WriteByte(',')
		}
		e.encode(item)
	}
	e.sb.WriteByte(']')
}

// quote renders s as a JSON string without HTML escaping.
func quote(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// formatFloat mirrors JSON number text: integral values carry no fraction,
// non-finite values encode as null.
func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "null"
	}
	if f == 0 {
		return "0"
	}
	abs := math.Abs(f)
	if abs < 1e21 && abs >= 1e-6 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'e', -1, 64)
}

func stringKeys(m map[any]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch key := k.(type) {
		case string:
			out[key] = v
		default:
			out[Canonicalize(key)] = v
		}
	}
	return out
}

var (
	genericMap   = reflect.TypeOf(map[string]any{})
	genericSlice = reflect.TypeOf([]any{})
)

// project converts an arbitrary Go value into the generic tree through its
// JSON encoding. Values that cannot be encoded become null.
func project(v any) any {
	rv := reflect.ValueOf(v)
	if rv.Type().ConvertibleTo(genericMap) {
		return rv.Convert(genericMap).Interface()
	}
	if rv.Type().ConvertibleTo(genericSlice) {
		return rv.Convert(genericSlice).Interface()
	}
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			out := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				out[iter.Key().String()] = iter.Value().Interface()
			}
			return out
		}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any{}
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	case reflect.Pointer:
		if rv.IsNil() {
			return nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

// Equal reports whether a and b have the same canonical form.
func Equal(a, b any) bool {
	return Canonicalize(a) == Canonicalize(b)
}
