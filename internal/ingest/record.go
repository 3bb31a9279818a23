// Package ingest turns raw nutrition datasets into a uniform stream of
// RawFoodRecord values.
//
// Parsers are push-based: each accepted record is handed to a YieldFunc as
// soon as it is decoded, so memory stays bounded by one record (USDA) or one
// window of rows (OpenFoodFacts). Re-running a parse means reopening the
// input; nothing is cached between runs.
package ingest

import "github.com/tphakala/nutrigraph/internal/errors"

// SourceID identifies the dataset a raw record came from
type SourceID string

const (
	SourceFoundation    SourceID = "foundation"
	SourceSRLegacy      SourceID = "sr_legacy"
	SourceOpenFoodFacts SourceID = "openfoodfacts"
)

// Sources lists every source in the fixed ingestion order
var Sources = []SourceID{SourceFoundation, SourceSRLegacy, SourceOpenFoodFacts}

// Nutrients holds per-100g values. A nil field is absent.
type Nutrients struct {
	EnergyKcal     *float64
	ProteinG       *float64
	CarbohydratesG *float64
	FatG           *float64
}

// Count returns how many nutrient values are present
func (n Nutrients) Count() int {
	count := 0
	for _, v := range []*float64{n.EnergyKcal, n.ProteinG, n.CarbohydratesG, n.FatG} {
		if v != nil {
			count++
		}
	}
	return count
}

// RawFoodRecord is one parsed food before normalization
type RawFoodRecord struct {
	Source     SourceID
	ExternalID string // FDC id for USDA, empty for OpenFoodFacts
	RawName    string
	Nutrients  Nutrients
}

// YieldFunc receives each accepted record. Returning an error stops the
// parse and the error is returned unchanged.
type YieldFunc func(RawFoodRecord) error

func float64Ptr(v float64) *float64 {
	return &v
}

func formatError(err error, source SourceID) error {
	return errors.SourceFormatError(err, string(source), "")
}
