// Package diff compares manifest trees and classifies the differences.
//
// Compare walks two generic value trees in lock-step: object keys by union,
// arrays index by index. Leaves are equal when their canonical JSON forms
// match. The resulting change list feeds a fixed breaking-change rule table,
// a significance filter for policy paths, and migration plan synthesis.
package diff

import (
	"reflect"
	"sort"

	"github.com/zjrosen/protoreg/internal/canon"
	"github.com/zjrosen/protoreg/internal/manifest"
)

// Kind is the type of a structural change.
type Kind string

const (
	Added    Kind = "added"
	Removed  Kind = "removed"
	Modified Kind = "modified"
)

// Change is one added, removed or modified value. From is nil for additions
// and To is nil for removals.
type Change struct {
	Path string `json:"path"`
	Kind Kind   `json:"kind"`
	From any    `json:"from,omitempty"`
	To   any    `json:"to,omitempty"`

	tokens canon.Path
}

// Tokens returns the parsed path of the change.
func (c Change) Tokens() canon.Path { return c.tokens }

// Breaking is a change judged incompatible with existing consumers.
type Breaking struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
	From   any    `json:"from,omitempty"`
	To     any    `json:"to,omitempty"`
}

// Significant is a policy-relevant change.
type Significant struct {
	Path string `json:"path"`
}

// Result is the outcome of comparing a base tree to a head tree.
type Result struct {
	Changes     []Change      `json:"changes"`
	Breaking    []Breaking    `json:"breaking"`
	Significant []Significant `json:"significant"`
}

// Empty reports whether the two trees were identical.
func (r Result) Empty() bool { return len(r.Changes) == 0 }

// HasBreaking reports whether any change is breaking.
func (r Result) HasBreaking() bool { return len(r.Breaking) > 0 }

// Compare diffs base a against head b and classifies the changes.
func Compare(a, b any) Result {
	w := &walker{onStack: map[uintptr]bool{}}
	w.walk(canon.Path{}, a, b)

	res := Result{
		Changes:     w.changes,
		Breaking:    []Breaking{},
		Significant: []Significant{},
	}
	if res.Changes == nil {
		res.Changes = []Change{}
	}
	for _, c := range res.Changes {
		res.Breaking = append(res.Breaking, classifyBreaking(c)...)
		if isSignificant(c.tokens) {
			res.Significant = append(res.Significant, Significant{Path: c.Path})
		}
	}
	return res
}

// Manifests compares two manifest bodies.
func Manifests(a, b *manifest.Manifest) Result {
	return Compare(bodyOf(a), bodyOf(b))
}

func bodyOf(m *manifest.Manifest) any {
	if m == nil {
		return nil
	}
	return m.Body()
}

type walker struct {
	changes []Change
	// onStack holds the containers currently being descended, so a cyclic
	// tree degrades to a canonical leaf comparison instead of recursing.
	onStack map[uintptr]bool
}

func (w *walker) add(p canon.Path, kind Kind, from, to any) {
	w.changes = append(w.changes, Change{Path: p.String(), Kind: kind, From: from, To: to, tokens: p})
}

func (w *walker) walk(p canon.Path, a, b any) {
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap && w.enter(am, bm) {
		defer w.leave(am, bm)
		for _, k := range unionKeys(am, bm) {
			av, inA := am[k]
			bv, inB := bm[k]
			switch {
			case !inB:
				w.add(p.Field(k), Removed, av, nil)
			case !inA:
				w.add(p.Field(k), Added, nil, bv)
			default:
				w.walk(p.Field(k), av, bv)
			}
		}
		return
	}

	as, aIsSlice := a.([]any)
	bs, bIsSlice := b.([]any)
	if aIsSlice && bIsSlice && w.enter(as, bs) {
		defer w.leave(as, bs)
		n := max(len(as), len(bs))
		for i := range n {
			switch {
			case i >= len(bs):
				w.add(p.Index(i), Removed, as[i], nil)
			case i >= len(as):
				w.add(p.Index(i), Added, nil, bs[i])
			default:
				w.walk(p.Index(i), as[i], bs[i])
			}
		}
		return
	}

	if canon.Canonicalize(a) != canon.Canonicalize(b) {
		w.add(p, Modified, a, b)
	}
}

func (w *walker) enter(a, b any) bool {
	pa, pb := containerID(a), containerID(b)
	if (pa != 0 && w.onStack[pa]) || (pb != 0 && w.onStack[pb]) {
		return false
	}
	if pa != 0 {
		w.onStack[pa] = true
	}
	if pb != 0 {
		w.onStack[pb] = true
	}
	return true
}

func (w *walker) leave(a, b any) {
	delete(w.onStack, containerID(a))
	delete(w.onStack, containerID(b))
}

func containerID(v any) uintptr {
	rv := reflect.ValueOf(v)
	if rv.Len() == 0 {
		return 0
	}
	return rv.Pointer()
}

func unionKeys(a, b map[string]any) []string {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
