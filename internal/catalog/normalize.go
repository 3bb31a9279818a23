package catalog

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/tphakala/nutrigraph/internal/ingest"
)

// MinNameLength is the shortest accepted normalized name, in runes
const MinNameLength = 2

// MaxNameLength caps display and normalized names, in runes. It fits the
// varchar(512) catalog columns.
const MaxNameLength = 500

// NormalizeName builds the deduplication key: NFKC, lower case, internal
// whitespace collapsed to one space, leading and trailing whitespace and
// punctuation removed. There is no stemming, so "tomato" and "tomatoes"
// stay distinct.
func NormalizeName(name string) string {
	s := norm.NFKC.String(name)
	s = strings.ToLower(s)
	s = collapseSpace(s)
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

// DisplayName folds control characters such as CR and LF into spaces,
// collapses whitespace runs and caps the result at MaxNameLength runes.
// Case and punctuation are kept.
func DisplayName(name string) string {
	return TruncateName(collapseSpace(name))
}

// TruncateName cuts s to MaxNameLength runes
func TruncateName(s string) string {
	runes := 0
	for i := range s {
		if runes == MaxNameLength {
			return strings.TrimRightFunc(s[:i], unicode.IsSpace)
		}
		runes++
	}
	return s
}

// collapseSpace turns control characters into spaces and joins the fields
// with single spaces
func collapseSpace(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// Normalize maps a raw record to a catalog candidate. Negative, NaN and
// infinite nutrient values become absent. ok is false when the normalized
// name is too short to be a key.
func Normalize(rec ingest.RawFoodRecord) (CanonicalIngredient, bool) {
	key := NormalizeName(rec.RawName)
	if utf8.RuneCountInString(key) < MinNameLength {
		return CanonicalIngredient{}, false
	}
	key = TruncateName(key)

	return CanonicalIngredient{
		Source:         SourceFor(rec.Source),
		ExternalID:     strings.TrimSpace(rec.ExternalID),
		Name:           DisplayName(rec.RawName),
		NameNormalized: key,
		EnergyKcal:     sanitize(rec.Nutrients.EnergyKcal),
		ProteinG:       sanitize(rec.Nutrients.ProteinG),
		CarbohydratesG: sanitize(rec.Nutrients.CarbohydratesG),
		FatG:           sanitize(rec.Nutrients.FatG),
	}, true
}

func sanitize(v *float64) *float64 {
	if v == nil || *v < 0 || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	out := *v
	return &out
}
