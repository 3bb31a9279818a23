package pipeline

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/nutrigraph/internal/catalog"
	"github.com/tphakala/nutrigraph/internal/conf"
	"github.com/tphakala/nutrigraph/internal/datastore"
	"github.com/tphakala/nutrigraph/internal/embedding"
	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/ingest"
	"github.com/tphakala/nutrigraph/internal/logger"
	"github.com/tphakala/nutrigraph/internal/observability"
	"github.com/tphakala/nutrigraph/internal/vectorindex"
)

const foundationFixture = `{"FoundationFoods": [
  {"fdcId": 100, "description": "Hummus, commercial", "foodNutrients": [
    {"nutrient": {"id": 1008}, "amount": 229},
    {"nutrient": {"id": 1003}, "amount": 7.35},
    {"nutrient": {"id": 1004}, "amount": 17.1}]},
  {"fdcId": 101, "description": "Kale, raw", "foodNutrients": [
    {"nutrient": {"id": 1005}, "amount": 4.42}]}
]}`

const srLegacyFixture = `{"SRLegacyFoods": [
  {"fdcId": 200, "description": "HUMMUS,  commercial", "foodNutrients": [
    {"nutrient": {"id": 1008}, "amount": 166}]},
  {"fdcId": 201, "description": "Butter, salted", "foodNutrients": [
    {"nutrient": {"id": 1008}, "amount": 717},
    {"nutrient": {"id": 1004}, "amount": 81.1}]}
]}`

// truncated part way through the array; its first food must not survive
const truncatedFixture = `{"SRLegacyFoods": [
  {"fdcId": 300, "description": "Ghost food", "foodNutrients": [{"nutrient": {"id": 1008}, "amount": 1}]},
  {"fdcId": 301, "descr`

func quiet() logger.Logger {
	return logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func offFixture(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(strings.Join([]string{
		"code\tproduct_name\tenergy_100g\tproteins_100g\tcarbohydrates_100g\tfat_100g",
		"1\tCorn tortillas\t1000\t5.7\t44.6\t2.9",
		"2\tkale, raw\t49\t4.3\t\t",
	}, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fixture struct {
	settings *conf.Settings
	store    datastore.Interface
}

// newFixture lays out a raw dir and opens a sqlite catalog. withSources
// picks which sources get files.
func newFixture(t *testing.T, withSources ...ingest.SourceID) *fixture {
	t.Helper()
	root := t.TempDir()

	settings := &conf.Settings{}
	settings.Data.RawDir = filepath.Join(root, "raw")
	settings.Data.ProcessedDir = filepath.Join(root, "processed")
	settings.Catalog.Driver = conf.DriverSQLite
	settings.Catalog.Path = "catalog.db"
	settings.Catalog.CSVPath = "catalog.csv"
	require.NoError(t, os.MkdirAll(settings.Data.RawDir, 0o755))

	for _, source := range withSources {
		location := ingest.SourceLocation(settings.Data.RawDir, source)
		switch source {
		case ingest.SourceFoundation:
			writeFile(t, filepath.Join(location, "foundation.json"), []byte(foundationFixture))
		case ingest.SourceSRLegacy:
			writeFile(t, filepath.Join(location, "a_truncated.json"), []byte(truncatedFixture))
			writeFile(t, filepath.Join(location, "nested", "sr_legacy.json"), []byte(srLegacyFixture))
		case ingest.SourceOpenFoodFacts:
			writeFile(t, location, offFixture(t))
		}
	}

	store, err := datastore.New(settings, quiet())
	require.NoError(t, err)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })
	return &fixture{settings: settings, store: store}
}

func names(items []catalog.CanonicalIngredient) []string {
	out := make([]string, len(items))
	for i := range items {
		out[i] = items[i].NameNormalized
	}
	return out
}

func TestCleanAllSources(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, ingest.Sources...)
	m, err := observability.NewMetrics()
	require.NoError(t, err)

	report, err := NewCleaner(fx.settings, fx.store, m.Pipeline, quiet()).Run(t.Context())
	require.NoError(t, err)

	assert.Empty(t, report.Failed)
	assert.Equal(t, 4, report.Rows)
	assert.Equal(t, 2, report.Duplicates, "sr_legacy hummus and off kale collide")
	require.Len(t, report.Sources, 3)
	assert.Equal(t, 2, report.Sources[0].Accepted)
	assert.Equal(t, 2, report.Sources[1].Accepted, "the truncated file contributes nothing")
	assert.Equal(t, 2, report.Sources[2].Accepted)

	items, err := fx.store.LoadAll(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"hummus, commercial", "kale, raw", "butter, salted", "corn tortillas"}, names(items))
	assert.Equal(t, catalog.SourceUSDAFoundation, items[0].Source, "foundation outranks sr_legacy")
	assert.InDelta(t, 229, *items[0].EnergyKcal, 1e-9)
	assert.Equal(t, catalog.SourceUSDAFoundation, items[1].Source, "foundation outranks openfoodfacts")
	assert.InDelta(t, ingest.KilojoulesToKcal(1000), *items[3].EnergyKcal, 1e-9)

	delimited, err := datastore.ReadCSV(report.CSVPath)
	require.NoError(t, err)
	require.NoError(t, datastore.Verify(items, delimited))
	require.NoError(t, VerifyCatalog(t.Context(), fx.store, report.CSVPath))

	expected := `
# HELP nutrigraph_catalog_rows Rows in the last written catalog
# TYPE nutrigraph_catalog_rows gauge
nutrigraph_catalog_rows 4
# HELP nutrigraph_dedupe_collisions_total Candidates that collided with an existing normalized name
# TYPE nutrigraph_dedupe_collisions_total counter
nutrigraph_dedupe_collisions_total 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"nutrigraph_catalog_rows", "nutrigraph_dedupe_collisions_total"))
}

func TestCleanToleratesFailedSources(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, ingest.SourceSRLegacy)

	report, err := NewCleaner(fx.settings, fx.store, nil, quiet()).Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []ingest.SourceID{ingest.SourceFoundation, ingest.SourceOpenFoodFacts}, report.Failed)
	assert.Equal(t, 2, report.Rows)
}

func TestCleanFailsWhenEverySourceFails(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	writeFile(t, filepath.Join(ingest.SourceLocation(fx.settings.Data.RawDir, ingest.SourceFoundation), "bad.json"), []byte(`{"other": []}`))

	report, err := NewCleaner(fx.settings, fx.store, nil, quiet()).Run(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsSourceFormat(err))
	assert.Len(t, report.Failed, 3)

	n, err := fx.store.Count(t.Context())
	require.NoError(t, err)
	assert.Zero(t, n, "nothing is written")
}

func TestCleanHonoursCancellation(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, ingest.Sources...)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := NewCleaner(fx.settings, fx.store, nil, quiet()).Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func cleanedFixture(t *testing.T) *fixture {
	t.Helper()
	fx := newFixture(t, ingest.Sources...)
	_, err := NewCleaner(fx.settings, fx.store, nil, quiet()).Run(t.Context())
	require.NoError(t, err)
	return fx
}

func openIndex(t *testing.T, e embedding.Embedder) *vectorindex.Index {
	t.Helper()
	idx, err := vectorindex.Open(filepath.Join(t.TempDir(), "index.db"), conf.DefaultCollection,
		vectorindex.Options{Embedder: e.Name(), Logger: quiet()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndexRecreateAndUpsert(t *testing.T) {
	t.Parallel()
	fx := cleanedFixture(t)
	e := embedding.NewBatcher(embedding.NewHashEmbedder(64), embedding.BatcherOptions{BatchSize: 2, Workers: 2}, quiet())
	idx := openIndex(t, e)
	ix := NewIndexer(fx.store, e, idx, nil, quiet())

	report, err := ix.Run(t.Context(), IndexOptions{TopN: 2, Recreate: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Selected)
	assert.Equal(t, 2, report.Entries)
	assert.Equal(t, "hash-64", idx.Meta().Embedder)

	// hummus has the most nutrients among foundation foods so it ranks first
	query, err := e.Embed(t.Context(), []string{"Hummus, commercial"})
	require.NoError(t, err)
	results, err := idx.Query(t.Context(), query[0], 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ing_0", results[0].Entry.ID)
	assert.Equal(t, "100", results[0].Entry.FdcID)
	assert.Equal(t, "usda_foundation", results[0].Entry.Source)

	report, err = ix.Run(t.Context(), IndexOptions{TopN: 10})
	require.NoError(t, err)
	assert.Equal(t, 4, report.Selected)
	assert.Equal(t, 4, report.Entries, "upsert merges by normalized name")

	report, err = ix.Run(t.Context(), IndexOptions{TopN: 1, Recreate: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Entries)
}

func TestIndexEmbeddingFailureWritesNothing(t *testing.T) {
	t.Parallel()
	fx := cleanedFixture(t)
	good := embedding.NewHashEmbedder(32)
	idx := openIndex(t, good)

	_, err := NewIndexer(fx.store, good, idx, nil, quiet()).Run(t.Context(), IndexOptions{TopN: 3, Recreate: true})
	require.NoError(t, err)

	bad := brokenEmbedder{HashEmbedder: good}
	_, err = NewIndexer(fx.store, bad, idx, nil, quiet()).Run(t.Context(), IndexOptions{Recreate: true})
	require.Error(t, err)
	assert.True(t, errors.IsEmbeddingFailure(err))
	assert.Equal(t, 3, idx.Count(), "previous collection is untouched")
}

func TestIndexEmptyCatalog(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	e := embedding.NewHashEmbedder(16)
	idx := openIndex(t, e)

	report, err := NewIndexer(fx.store, e, idx, nil, quiet()).Run(t.Context(), IndexOptions{Recreate: true})
	require.NoError(t, err)
	assert.Zero(t, report.Selected)
	assert.Zero(t, idx.Count())
}

func TestBuildEntries(t *testing.T) {
	energy := 35.0
	long := strings.Repeat("é", 600)
	selected := []*catalog.CanonicalIngredient{
		{Source: catalog.SourceUSDAFoundation, ExternalID: "7", Name: "Kale, raw", NameNormalized: "kale, raw", EnergyKcal: &energy},
		{Source: catalog.SourceOpenFoodFacts, Name: long, NameNormalized: "long"},
	}

	entries := BuildEntries(selected)
	require.Len(t, entries, 2)
	assert.Equal(t, "ing_0", entries[0].ID)
	assert.Equal(t, "ing_1", entries[1].ID)
	assert.Equal(t, 1, entries[1].Rank)
	assert.Equal(t, "Kale, raw | energy_kcal: 35.0", entries[0].Document)
	assert.Same(t, &energy, entries[0].EnergyKcal)
	assert.Equal(t, []rune(long)[:catalog.MaxNameLength], []rune(entries[1].Name))
}

type brokenEmbedder struct {
	*embedding.HashEmbedder
}

func (brokenEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.EmbeddingFailureError(errors.NewStd("backend down"), "broken", 3)
}

func TestCleanFoldsLineBreaksInNames(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	location := ingest.SourceLocation(fx.settings.Data.RawDir, ingest.SourceFoundation)
	writeFile(t, filepath.Join(location, "foundation.json"), []byte(`{"FoundationFoods": [
  {"fdcId": 1, "description": "Corn\r\ntortillas", "foodNutrients": [{"nutrient": {"id": 1008}, "amount": 218}]},
  {"fdcId": 2, "description": "Oats,\trolled\u0000", "foodNutrients": []}
]}`))

	report, err := NewCleaner(fx.settings, fx.store, nil, quiet()).Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Rows)

	items, err := fx.store.LoadAll(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "Corn tortillas", items[0].Name)
	assert.Equal(t, "corn tortillas", items[0].NameNormalized)
	assert.Equal(t, "Oats, rolled", items[1].Name)
	require.NoError(t, VerifyCatalog(t.Context(), fx.store, report.CSVPath))
}

// rejectingStore reads through to the wrapped store but refuses every ReplaceAll
type rejectingStore struct {
	datastore.Interface
}

func (rejectingStore) ReplaceAll(context.Context, []catalog.CanonicalIngredient) error {
	return errors.NewStd("disk full")
}

func TestCleanKeepsPreviousCatalogOnFailedReplace(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, ingest.SourceFoundation)

	report, err := NewCleaner(fx.settings, fx.store, nil, quiet()).Run(t.Context())
	require.NoError(t, err)
	before, err := os.ReadFile(report.CSVPath)
	require.NoError(t, err)

	location := ingest.SourceLocation(fx.settings.Data.RawDir, ingest.SourceOpenFoodFacts)
	writeFile(t, location, offFixture(t))

	_, err = NewCleaner(fx.settings, rejectingStore{fx.store}, nil, quiet()).Run(t.Context())
	require.Error(t, err)

	after, err := os.ReadFile(report.CSVPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "csv must not move ahead of the table")
	assert.NoFileExists(t, report.CSVPath+".tmp")

	items, err := fx.store.LoadAll(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"hummus, commercial", "kale, raw"}, names(items))
	require.NoError(t, VerifyCatalog(t.Context(), fx.store, report.CSVPath))
}
