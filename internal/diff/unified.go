package diff

import (
	"encoding/json"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/zjrosen/protoreg/internal/manifest"
)

// Unified renders a line diff of the pretty-printed bodies of a and b.
// Identical manifests render as "".
func Unified(a, b *manifest.Manifest) string {
	oldText, newText := pretty(a), pretty(b)
	if oldText == newText {
		return ""
	}

	dmp := diffmatchpatch.New()
	oldChars, newChars, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(oldChars, newChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var sb strings.Builder
	sb.WriteString("--- " + label(a) + "\n")
	sb.WriteString("+++ " + label(b) + "\n")
	for _, d := range diffs {
		prefix := " "
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String()
}

// pretty marshals the body with sorted keys, one value per line.
func pretty(m *manifest.Manifest) string {
	if m == nil {
		return ""
	}
	data, err := json.MarshalIndent(m.Body(), "", "  ")
	if err != nil {
		return ""
	}
	return string(data) + "\n"
}

func label(m *manifest.Manifest) string {
	if m == nil {
		return "/dev/null"
	}
	return m.URN().String()
}
