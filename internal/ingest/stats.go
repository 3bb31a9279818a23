package ingest

import (
	"maps"
	"slices"
)

// SkipReason says why a record was dropped
type SkipReason string

const (
	SkipMissingID    SkipReason = "missing_id"
	SkipMissingName  SkipReason = "missing_name"
	SkipShortName    SkipReason = "short_name"
	SkipBadNumber    SkipReason = "bad_number"
	SkipNoNutrients  SkipReason = "no_nutrients"
	SkipMalformedRow SkipReason = "malformed_row"
)

// Stats counts what one parse accepted and skipped
type Stats struct {
	Source   SourceID
	Accepted int
	Skipped  map[SkipReason]int
	// Capped is set when the accepted-row limit ended the parse early
	Capped bool
}

func newStats(source SourceID) Stats {
	return Stats{Source: source, Skipped: make(map[SkipReason]int)}
}

func (s *Stats) skip(reason SkipReason) {
	if s.Skipped == nil {
		s.Skipped = make(map[SkipReason]int)
	}
	s.Skipped[reason]++
}

// SkippedTotal sums skips over all reasons
func (s Stats) SkippedTotal() int {
	total := 0
	for _, n := range s.Skipped {
		total += n
	}
	return total
}

// Reasons returns the skip reasons seen, sorted
func (s Stats) Reasons() []SkipReason {
	return slices.Sorted(maps.Keys(s.Skipped))
}

// Merge adds other's counts into s
func (s *Stats) Merge(other Stats) {
	s.Accepted += other.Accepted
	for reason, n := range other.Skipped {
		if s.Skipped == nil {
			s.Skipped = make(map[SkipReason]int)
		}
		s.Skipped[reason] += n
	}
	s.Capped = s.Capped || other.Capped
}
