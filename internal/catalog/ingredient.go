// Package catalog builds the cleaned ingredient catalog: it normalizes raw
// records, deduplicates them by normalized name under a fixed source
// priority, and selects the working set that gets indexed.
package catalog

import (
	"strconv"
	"strings"

	"github.com/tphakala/nutrigraph/internal/ingest"
)

// Source is the catalog-level origin of an ingredient
type Source string

const (
	SourceUSDAFoundation Source = "usda_foundation"
	SourceUSDASRLegacy   Source = "usda_sr_legacy"
	SourceOpenFoodFacts  Source = "openfoodfacts"
)

// Priority ranks sources for deduplication and selection; lower wins.
func (s Source) Priority() int {
	switch s {
	case SourceUSDAFoundation:
		return 0
	case SourceUSDASRLegacy:
		return 1
	case SourceOpenFoodFacts:
		return 2
	default:
		return 3
	}
}

// Valid reports whether s is one of the known sources
func (s Source) Valid() bool {
	return s.Priority() < 3
}

// SourceFor maps a parser source to its catalog source
func SourceFor(id ingest.SourceID) Source {
	switch id {
	case ingest.SourceFoundation:
		return SourceUSDAFoundation
	case ingest.SourceSRLegacy:
		return SourceUSDASRLegacy
	case ingest.SourceOpenFoodFacts:
		return SourceOpenFoodFacts
	default:
		return Source(id)
	}
}

// CanonicalIngredient is one row of the cleaned catalog. Nutrient values
// are per 100 g, non-negative, and nil when absent.
type CanonicalIngredient struct {
	Source         Source
	ExternalID     string // FDC id, empty for OpenFoodFacts
	Name           string
	NameNormalized string
	EnergyKcal     *float64
	ProteinG       *float64
	CarbohydratesG *float64
	FatG           *float64
}

// Completeness counts the nutrient values present
func (c *CanonicalIngredient) Completeness() int {
	n := 0
	for _, v := range c.nutrientValues() {
		if v.value != nil {
			n++
		}
	}
	return n
}

type namedValue struct {
	key   string
	value *float64
}

func (c *CanonicalIngredient) nutrientValues() [4]namedValue {
	return [4]namedValue{
		{"energy_kcal", c.EnergyKcal},
		{"protein_g", c.ProteinG},
		{"carbohydrates_g", c.CarbohydratesG},
		{"fat_g", c.FatG},
	}
}

// DocumentText is the text embedded for an ingredient: the display name
// followed by each present nutrient with one decimal, for example
// "Hummus, commercial | energy_kcal: 229.0 | protein_g: 7.3".
func (c *CanonicalIngredient) DocumentText() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(c.Name))
	for _, v := range c.nutrientValues() {
		if v.value == nil {
			continue
		}
		b.WriteString(" | ")
		b.WriteString(v.key)
		b.WriteString(": ")
		b.WriteString(strconv.FormatFloat(*v.value, 'f', 1, 64))
	}
	return b.String()
}
