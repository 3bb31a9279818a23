package retrieval

import (
	"cmp"
	"slices"
	"strings"
)

// applyKeywordBoost adds boost to matches whose normalized name contains
// query and re-sorts with the index's ordering rules.
func applyKeywordBoost(matches []Match, query string, boost float64) []Match {
	if query == "" {
		return matches
	}
	for i := range matches {
		if strings.Contains(matches[i].NameNormalized, query) {
			matches[i].Similarity += boost
		}
	}
	slices.SortStableFunc(matches, func(a, b Match) int {
		return cmp.Or(
			cmp.Compare(b.Similarity, a.Similarity),
			cmp.Compare(a.NameNormalized, b.NameNormalized),
		)
	})
	return matches
}
