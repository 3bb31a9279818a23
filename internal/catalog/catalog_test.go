package catalog

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/nutrigraph/internal/ingest"
)

func f(v float64) *float64 { return &v }

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{" Hummus,  Commercial ", "hummus, commercial"},
		{"hummus, commercial", "hummus, commercial"},
		{"CORN\tTortillas\n", "corn tortillas"},
		{"...Oats, rolled!!", "oats, rolled"},
		{"ＡＢＣ　Flour", "abc flour"}, // full-width letters and ideographic space fold under NFKC
		{"Tomatoes", "tomatoes"},
		{"  -- ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}

	assert.Equal(t, NormalizeName(" Hummus,  Commercial "), NormalizeName("hummus, commercial"))
}

func TestNormalize(t *testing.T) {
	rec := ingest.RawFoodRecord{
		Source:     ingest.SourceSRLegacy,
		ExternalID: " 171 ",
		RawName:    "  Butter, salted ",
		Nutrients: ingest.Nutrients{
			EnergyKcal:     f(717),
			ProteinG:       f(-1),
			CarbohydratesG: f(math.NaN()),
			FatG:           f(math.Inf(1)),
		},
	}

	c, ok := Normalize(rec)
	require.True(t, ok)
	assert.Equal(t, SourceUSDASRLegacy, c.Source)
	assert.Equal(t, "171", c.ExternalID)
	assert.Equal(t, "Butter, salted", c.Name)
	assert.Equal(t, "butter, salted", c.NameNormalized)
	assert.InDelta(t, 717, *c.EnergyKcal, 0)
	assert.Nil(t, c.ProteinG, "negative values are absent")
	assert.Nil(t, c.CarbohydratesG, "NaN is absent")
	assert.Nil(t, c.FatG, "Inf is absent")
	assert.Equal(t, 1, c.Completeness())

	_, ok = Normalize(ingest.RawFoodRecord{Source: ingest.SourceOpenFoodFacts, RawName: " x. "})
	assert.False(t, ok, "single character keys are rejected")
}

func TestNormalizeFoldsControlCharacters(t *testing.T) {
	c, ok := Normalize(ingest.RawFoodRecord{Source: ingest.SourceFoundation, ExternalID: "1", RawName: "Corn\r\ntortillas\x00"})
	require.True(t, ok)
	assert.Equal(t, "Corn tortillas", c.Name)
	assert.Equal(t, "corn tortillas", c.NameNormalized)
	assert.Equal(t, "Keep Case, punct!", DisplayName(" Keep \t Case, punct! "))
}

func TestNormalizeCapsNameLength(t *testing.T) {
	long := strings.Repeat("ä", MaxNameLength+50)
	c, ok := Normalize(ingest.RawFoodRecord{Source: ingest.SourceOpenFoodFacts, RawName: long})
	require.True(t, ok)
	assert.Equal(t, MaxNameLength, utf8.RuneCountInString(c.Name))
	assert.Equal(t, MaxNameLength, utf8.RuneCountInString(c.NameNormalized))

	// a cut that lands after a space does not leave it dangling
	spaced := strings.Repeat("a", MaxNameLength-1) + " tail"
	assert.Equal(t, strings.Repeat("a", MaxNameLength-1), TruncateName(spaced))
	assert.Equal(t, "short", TruncateName("short"))
}

func TestNormalizeDoesNotAliasInput(t *testing.T) {
	energy := 100.0
	c, ok := Normalize(ingest.RawFoodRecord{Source: ingest.SourceFoundation, ExternalID: "1", RawName: "Oats", Nutrients: ingest.Nutrients{EnergyKcal: &energy}})
	require.True(t, ok)
	energy = 5
	assert.InDelta(t, 100, *c.EnergyKcal, 0)
}

func TestDocumentText(t *testing.T) {
	c := CanonicalIngredient{Name: "Hummus, commercial", EnergyKcal: f(229), ProteinG: f(7.35), FatG: f(17.1)}
	assert.Equal(t, "Hummus, commercial | energy_kcal: 229.0 | protein_g: 7.3 | fat_g: 17.1", c.DocumentText())

	bare := CanonicalIngredient{Name: "Sea salt"}
	assert.Equal(t, "Sea salt", bare.DocumentText())
}

func ing(source Source, id, name string, nutrients ...float64) CanonicalIngredient {
	c := CanonicalIngredient{Source: source, ExternalID: id, Name: name, NameNormalized: NormalizeName(name)}
	targets := []**float64{&c.EnergyKcal, &c.ProteinG, &c.CarbohydratesG, &c.FatG}
	for i, v := range nutrients {
		*targets[i] = f(v)
	}
	return c
}

func TestDeduplicatePrefersSourcePriority(t *testing.T) {
	candidates := []CanonicalIngredient{
		ing(SourceUSDAFoundation, "1", "Kale, raw", 35),
		ing(SourceUSDASRLegacy, "2", "Hummus, commercial", 166),
		ing(SourceUSDASRLegacy, "3", "kale,  RAW", 49),
		ing(SourceOpenFoodFacts, "", "Hummus, Commercial", 300),
		ing(SourceOpenFoodFacts, "", "Corn tortillas", 218),
		ing(SourceOpenFoodFacts, "", "corn tortillas", 999),
	}

	out := Deduplicate(candidates)
	require.Len(t, out, 3)

	assert.Equal(t, "kale, raw", out[0].NameNormalized)
	assert.Equal(t, SourceUSDAFoundation, out[0].Source)
	assert.Equal(t, "hummus, commercial", out[1].NameNormalized)
	assert.Equal(t, SourceUSDASRLegacy, out[1].Source)
	assert.Equal(t, "corn tortillas", out[2].NameNormalized)
	assert.InDelta(t, 218, *out[2].EnergyKcal, 0, "first candidate within a source wins")
}

func TestDeduplicatorUpgradesOutOfOrderCandidates(t *testing.T) {
	var d Deduplicator
	d.Add(ing(SourceOpenFoodFacts, "", "Oats", 389))
	d.Add(ing(SourceUSDAFoundation, "9", "OATS", 379))

	require.Equal(t, 1, d.Len())
	assert.Equal(t, 1, d.Duplicates())
	assert.Equal(t, SourceUSDAFoundation, d.Result()[0].Source)
}

// The catalog holds exactly one row per key, taken from the best source.
func TestDeduplicateInvariantRandomized(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	names := []string{"Apple", "apple ", "APPLE", "Pear", "pear", "Rice, white", "rice,  white", "Milk"}
	sources := []Source{SourceUSDAFoundation, SourceUSDASRLegacy, SourceOpenFoodFacts}

	for round := range 50 {
		var candidates []CanonicalIngredient
		for _, src := range sources {
			for i := range rng.IntN(12) {
				name := names[rng.IntN(len(names))]
				candidates = append(candidates, ing(src, fmt.Sprintf("%d-%d", round, i), name, float64(rng.IntN(900))))
			}
		}

		best := make(map[string]int)
		for _, c := range candidates {
			if p, ok := best[c.NameNormalized]; !ok || c.Source.Priority() < p {
				best[c.NameNormalized] = c.Source.Priority()
			}
		}

		out := Deduplicate(candidates)
		seen := make(map[string]bool)
		for _, c := range out {
			require.False(t, seen[c.NameNormalized], "duplicate key %q", c.NameNormalized)
			seen[c.NameNormalized] = true
			assert.Equal(t, best[c.NameNormalized], c.Source.Priority())
		}
		assert.Len(t, out, len(best))
	}
}

func TestSelectOrdering(t *testing.T) {
	items := []CanonicalIngredient{
		ing(SourceOpenFoodFacts, "", "Corn tortillas", 218, 5.7, 44.6, 2.9),
		ing(SourceUSDASRLegacy, "2", "Butter", 717),
		ing(SourceUSDAFoundation, "3", "Kale", 35, 2.9),
		ing(SourceUSDAFoundation, "4", "Apple", 52, 0.3),
		ing(SourceUSDAFoundation, "5", "Zucchini", 17, 1.2, 3.1, 0.3),
		ing(SourceUSDASRLegacy, "6", "Almonds", 579, 21, 22, 50),
	}

	got := Select(items, 0)
	var names []string
	for _, c := range got {
		names = append(names, c.NameNormalized)
	}
	assert.Equal(t, []string{"zucchini", "apple", "kale", "almonds", "butter", "corn tortillas"}, names)

	top := Select(items, 2)
	require.Len(t, top, 2)
	assert.Same(t, &items[4], top[0], "selection returns references into the catalog")
	assert.Equal(t, "Corn tortillas", items[0].Name, "input order is untouched")
}

func TestSelectIsIdempotent(t *testing.T) {
	items := []CanonicalIngredient{
		ing(SourceOpenFoodFacts, "", "B", 1),
		ing(SourceOpenFoodFacts, "", "A", 1),
		ing(SourceUSDASRLegacy, "1", "C"),
	}

	first := Select(items, 10)
	second := Select(items, 10)
	require.Len(t, first, 3)
	for i := range first {
		assert.Same(t, first[i], second[i])
	}
}

func TestSourceMapping(t *testing.T) {
	assert.Equal(t, SourceUSDAFoundation, SourceFor(ingest.SourceFoundation))
	assert.Equal(t, SourceUSDASRLegacy, SourceFor(ingest.SourceSRLegacy))
	assert.Equal(t, SourceOpenFoodFacts, SourceFor(ingest.SourceOpenFoodFacts))
	assert.True(t, SourceOpenFoodFacts.Valid())
	assert.False(t, Source("brand").Valid())
}
