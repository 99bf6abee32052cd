package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNearestMatches_Typo_ReturnsClosestFirst(t *testing.T) {
	// GIVEN a one-edit typo of "query" among other flag names
	candidates := []string{"query", "list-gpus", "display", "format"}

	// WHEN matching "quary"
	got := NearestMatches("quary", candidates)

	// THEN "query" leads the suggestions
	if len(got) == 0 {
		t.Fatal("expected at least one suggestion")
	}
	assert.Equal(t, "query", got[0])
}

func TestNearestMatches_NothingClose_ReturnsEmpty(t *testing.T) {
	// GIVEN candidates far beyond the edit cutoff
	got := NearestMatches("xz", []string{"persistence-mode", "power-limit"})

	// THEN no suggestion is made
	assert.Empty(t, got)
}

func TestNearestMatches_CapsAtTwoSuggestions(t *testing.T) {
	// GIVEN many candidates within one edit of the input
	got := NearestMatches("sel", []string{"set", "sels", "el", "sol", "sex"})

	// THEN at most two come back
	if len(got) > 2 {
		t.Errorf("got %d suggestions, want at most 2", len(got))
	}
}

func TestNearestMatches_DeduplicatesCandidates(t *testing.T) {
	// GIVEN the same candidate appearing twice (static list + registry)
	got := NearestMatches("lgip", []string{"lgi", "lgi", "lgip"})

	// THEN it is suggested once
	seen := map[string]int{}
	for _, s := range got {
		seen[s]++
	}
	for name, n := range seen {
		if n > 1 {
			t.Errorf("suggestion %q appeared %d times", name, n)
		}
	}
}
