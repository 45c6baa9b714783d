// Package textspan rebuilds text from non-overlapping replacement spans.
package textspan

import (
	"sort"
	"strings"
)

// Edit replaces text[Start:End] with Text.
type Edit struct {
	Start int
	End   int
	Text  string
}

// Apply returns text with every edit applied. Edits are located against the
// original text, so earlier replacements never shift later ones. Overlapping
// or out-of-range edits are dropped.
func Apply(text string, edits []Edit) string {
	if len(edits) == 0 {
		return text
	}
	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, e := range sorted {
		if e.Start < pos || e.End < e.Start || e.End > len(text) {
			continue
		}
		b.WriteString(text[pos:e.Start])
		b.WriteString(e.Text)
		pos = e.End
	}
	b.WriteString(text[pos:])
	return b.String()
}
