package synth

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/query-router/internal/model"
)

// markerRe matches [1] and [1, 3] style markers.
var markerRe = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// parseMarkers returns the 1-based evidence numbers cited in text, in order
// of first appearance, without duplicates. Numbers outside [1, n] are dropped.
func parseMarkers(text string, n int) []int {
	var (
		out  []int
		seen = make(map[int]bool)
	)
	for _, m := range markerRe.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(m[1], ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || idx < 1 || idx > n || seen[idx] {
				continue
			}
			seen[idx] = true
			out = append(out, idx)
		}
	}
	return out
}

// ExtractCitations maps the markers in answer to evidence records.
func ExtractCitations(answer string, evidence []model.EvidenceRecord) []model.Citation {
	idx := parseMarkers(answer, len(evidence))
	out := make([]model.Citation, 0, len(idx))
	for _, i := range idx {
		out = append(out, citationFor(i, evidence[i-1]))
	}
	return out
}

func citationFor(i int, e model.EvidenceRecord) model.Citation {
	return model.Citation{
		Index:      i,
		Origin:     e.Origin,
		Title:      e.Title,
		Provenance: e.Provenance,
		Snippet:    clip(e.Content, snippetLimit),
	}
}
