package catalog

import (
	"cmp"
	"slices"
)

// DefaultSelectSize is the working set size when none is given
const DefaultSelectSize = 1000

// Compare orders ingredients for selection: source priority, then
// completeness descending, then normalized name. External id breaks the
// remaining ties, which only exist if the input was not deduplicated.
func Compare(a, b *CanonicalIngredient) int {
	return cmp.Or(
		cmp.Compare(a.Source.Priority(), b.Source.Priority()),
		cmp.Compare(b.Completeness(), a.Completeness()),
		cmp.Compare(a.NameNormalized, b.NameNormalized),
		cmp.Compare(a.ExternalID, b.ExternalID),
	)
}

// Select returns the first k ingredients of items under Compare. The
// result points into items and items itself is not reordered. k <= 0
// means DefaultSelectSize.
func Select(items []CanonicalIngredient, k int) []*CanonicalIngredient {
	if k <= 0 {
		k = DefaultSelectSize
	}

	refs := make([]*CanonicalIngredient, len(items))
	for i := range items {
		refs[i] = &items[i]
	}

	slices.SortStableFunc(refs, Compare)

	if k < len(refs) {
		refs = refs[:k]
	}
	return refs
}
