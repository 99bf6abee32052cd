package sim

import (
	"sort"

	"github.com/agnivade/levenshtein"
)

// maxSuggestions bounds how many near-misses an error message proposes.
const maxSuggestions = 2

// NearestMatches returns up to maxSuggestions candidates closest to input
// by edit distance, nearest first. Candidates further than
// max(2, len(input)/2) edits away are not worth proposing and are dropped.
func NearestMatches(input string, candidates []string) []string {
	type scored struct {
		name string
		dist int
	}

	cutoff := len(input) / 2
	if cutoff < 2 {
		cutoff = 2
	}

	var hits []scored
	seen := map[string]bool{}
	for _, c := range candidates {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		d := levenshtein.ComputeDistance(input, c)
		if d <= cutoff {
			hits = append(hits, scored{c, d})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].dist != hits[j].dist {
			return hits[i].dist < hits[j].dist
		}
		return hits[i].name < hits[j].name
	})

	out := make([]string, 0, maxSuggestions)
	for _, h := range hits {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, h.name)
	}
	return out
}
