package canon

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidPath is returned when a path expression cannot be parsed.
var ErrInvalidPath = errors.New("invalid path")

// TokenKind distinguishes object fields from array indexes.
type TokenKind int

const (
	FieldToken TokenKind = iota
	IndexToken
)

// Token is one step of a Path.
type Token struct {
	Kind  TokenKind
	Field string
	Index int
}

// Path is a parsed dot/bracket expression such as "schema.fields.email" or
// "endpoints[0].response.fields".
type Path []Token

// ParsePath parses a dot/bracket expression. Bracket contents that are
// non-negative integers become index tokens; anything else in brackets is a
// literal field name, which allows keys containing dots.
func ParsePath(expr string) (Path, error) {
	if expr == "" {
		return Path{}, nil
	}

	var (
		path Path
		cur  strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			path = append(path, Token{Kind: FieldToken, Field: cur.String()})
			cur.Reset()
		}
	}

	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch c {
		case '.':
			if cur.Len() == 0 && (i == 0 || expr[i-1] != ']') {
				return nil, fmt.Errorf("%w: empty segment at %d in %q", ErrInvalidPath, i, expr)
			}
			flush()
			if i == len(expr)-1 {
				return nil, fmt.Errorf("%w: trailing dot in %q", ErrInvalidPath, expr)
			}
		case '[':
			flush()
			end := strings.IndexByte(expr[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed bracket in %q", ErrInvalidPath, expr)
			}
			inner := expr[i+1 : i+end]
			if inner == "" {
				return nil, fmt.Errorf("%w: empty brackets in %q", ErrInvalidPath, expr)
			}
			inner = strings.Trim(inner, `"'`)
			if n, err := strconv.Atoi(inner); err == nil && n >= 0 {
				path = append(path, Token{Kind: IndexToken, Index: n})
			} else {
				path = append(path, Token{Kind: FieldToken, Field: inner})
			}
			i += end
		case ']':
			return nil, fmt.Errorf("%w: unexpected ']' in %q", ErrInvalidPath, expr)
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return path, nil
}

// MustParsePath is ParsePath for static expressions; it panics on error.
func MustParsePath(expr string) Path {
	p, err := ParsePath(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// String renders the path using dots for fields and brackets for indexes.
func (p Path) String() string {
	var sb strings.Builder
	for i, tok := range p {
		switch tok.Kind {
		case IndexToken:
			sb.WriteString("[")
			sb.WriteString(strconv.Itoa(tok.Index))
			sb.WriteString("]")
		default:
			if i > 0 {
				sb.WriteByte('.')
			}
			if strings.ContainsAny(tok.Field, ".[]") {
				sb.WriteString("[")
				sb.WriteString(tok.Field)
				sb.WriteString("]")
			} else {
				sb.WriteString(tok.Field)
			}
		}
	}
	return sb.String()
}

// Field returns a copy of p extended with a field token.
func (p Path) Field(name string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, Token{Kind: FieldToken, Field: name})
}

// Index returns a copy of p extended with an index token.
func (p Path) Index(i int) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, Token{Kind: IndexToken, Index: i})
}

// Get walks tree along p. The boolean is false when any step is missing; a
// present null value reports true.
func (p Path) Get(tree any) (any, bool) {
	cur := tree
	for _, tok := range p {
		next, ok := step(cur, tok)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func step(cur any, tok Token) (any, bool) {
	switch node := cur.(type) {
	case map[string]any:
		key := tok.Field
		if tok.Kind == IndexToken {
			key = strconv.Itoa(tok.Index)
		}
		v, ok := node[key]
		return v, ok
	case []any:
		idx := tok.Index
		if tok.Kind == FieldToken {
			n, err := strconv.Atoi(tok.Field)
			if err != nil {
				return nil, false
			}
			idx = n
		}
		if idx < 0 || idx >= len(node) {
			return nil, false
		}
		return node[idx], true
	default:
		return nil, false
	}
}

// Set returns a copy of tree with value stored at p. Containers along the path
// are copied; missing objects are created. tree itself is never modified.
func (p Path) Set(tree any, value any) (any, error) {
	if len(p) == 0 {
		return value, nil
	}
	tok, rest := p[0], p[1:]

	switch node := tree.(type) {
	case nil:
		if tok.Kind == IndexToken {
			return nil, fmt.Errorf("%w: cannot index missing value at %s", ErrInvalidPath, p)
		}
		child, err := rest.Set(nil, value)
		if err != nil {
			return nil, err
		}
		return map[string]any{tok.Field: child}, nil
	case map[string]any:
		key := tok.Field
		if tok.Kind == IndexToken {
			key = strconv.Itoa(tok.Index)
		}
		out := make(map[string]any, len(node)+1)
		for k, v := range node {
			out[k] = v
		}
		child, err := rest.Set(node[key], value)
		if err != nil {
			return nil, err
		}
		out[key] = child
		return out, nil
	case []any:
		idx := tok.Index
		if tok.Kind == FieldToken {
			n, err := strconv.Atoi(tok.Field)
			if err != nil {
				return nil, fmt.Errorf("%w: field %q on array", ErrInvalidPath, tok.Field)
			}
			idx = n
		}
		if idx < 0 || idx > len(node) {
			return nil, fmt.Errorf("%w: index %d out of range", ErrInvalidPath, idx)
		}
		out := make([]any, len(node), len(node)+1)
		copy(out, node)
		var existing any
		if idx < len(node) {
			existing = node[idx]
		}
		child, err := rest.Set(existing, value)
		if err != nil {
			return nil, err
		}
		if idx == len(node) {
			out = append(out, child)
		} else {
			out[idx] = child
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: cannot descend into %T", ErrInvalidPath, tree)
	}
}

// Lookup parses expr and walks tree along it.
func Lookup(tree any, expr string) (any, bool) {
	p, err := ParsePath(expr)
	if err != nil {
		return nil, false
	}
	return p.Get(tree)
}
