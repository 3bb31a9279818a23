package catalog

// Deduplicator reduces candidates to one ingredient per normalized name.
// Candidates must arrive in the fixed source order (foundation, sr_legacy,
// openfoodfacts). A candidate replaces the held one only when its source has
// strictly higher priority, so within a source the first one wins. The
// zero value is ready to use.
type Deduplicator struct {
	index      map[string]int
	items      []CanonicalIngredient
	duplicates int
}

// Add offers one candidate
func (d *Deduplicator) Add(c CanonicalIngredient) {
	if d.index == nil {
		d.index = make(map[string]int)
	}

	i, seen := d.index[c.NameNormalized]
	if !seen {
		d.index[c.NameNormalized] = len(d.items)
		d.items = append(d.items, c)
		return
	}

	d.duplicates++
	if c.Source.Priority() < d.items[i].Source.Priority() {
		// key keeps its first-seen position
		d.items[i] = c
	}
}

// Len returns the number of distinct keys held
func (d *Deduplicator) Len() int {
	return len(d.items)
}

// Duplicates returns how many candidates collided with an existing key
func (d *Deduplicator) Duplicates() int {
	return d.duplicates
}

// Result returns the catalog in first-seen key order
func (d *Deduplicator) Result() []CanonicalIngredient {
	return d.items
}

// Deduplicate is the one-shot form of Deduplicator
func Deduplicate(candidates []CanonicalIngredient) []CanonicalIngredient {
	var d Deduplicator
	for i := range candidates {
		d.Add(candidates[i])
	}
	return d.Result()
}
