// Package pipeline runs the offline stages: clean turns raw datasets into
// the canonical catalog, index embeds the working set into the vector index.
package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/tphakala/nutrigraph/internal/catalog"
	"github.com/tphakala/nutrigraph/internal/conf"
	"github.com/tphakala/nutrigraph/internal/datastore"
	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/ingest"
	"github.com/tphakala/nutrigraph/internal/logger"
	"github.com/tphakala/nutrigraph/internal/observability/metrics"
)

// CleanReport summarizes one clean run
type CleanReport struct {
	Sources    []ingest.Stats
	Failed     []ingest.SourceID
	Duplicates int
	Rows       int
	CSVPath    string
}

// Cleaner parses every source, normalizes and deduplicates the records, and
// writes the catalog to the datastore and its CSV copy.
type Cleaner struct {
	settings *conf.Settings
	store    datastore.Interface
	metrics  *metrics.PipelineMetrics
	log      logger.Logger
}

// NewCleaner wires a Cleaner. The store must already be open.
func NewCleaner(settings *conf.Settings, store datastore.Interface, m *metrics.PipelineMetrics, log logger.Logger) *Cleaner {
	if log == nil {
		log = logger.Global().Module("pipeline")
	}
	return &Cleaner{settings: settings, store: store, metrics: m, log: log}
}

// Run executes the clean stage. A source that fails with a format error is
// skipped; the run fails only when every source does.
func (c *Cleaner) Run(ctx context.Context) (*CleanReport, error) {
	report := &CleanReport{CSVPath: c.settings.CatalogCSVPath()}
	var dedupe catalog.Deduplicator

	start := time.Now()
	for _, source := range ingest.Sources {
		stats, records, err := c.parseSource(ctx, source)
		if err != nil {
			if !errors.IsSourceFormat(err) {
				c.metrics.ObserveStage(metrics.StageParse, time.Since(start), err)
				return report, err
			}
			c.log.Warn("source skipped",
				logger.String("source", string(source)),
				logger.Error(err))
			c.metrics.RecordSourceFailure(string(source))
			report.Failed = append(report.Failed, source)
		}
		report.Sources = append(report.Sources, stats)
		c.metrics.RecordSourceStats(string(source), stats.Accepted, skippedByReason(stats))

		for i := range records {
			if canonical, ok := catalog.Normalize(records[i]); ok {
				dedupe.Add(canonical)
			}
		}
	}
	c.metrics.ObserveStage(metrics.StageParse, time.Since(start), nil)

	if len(report.Failed) == len(ingest.Sources) {
		return report, errors.Newf("all %d sources failed to parse", len(ingest.Sources)).
			Component("pipeline").
			Category(errors.CategorySourceFormat).
			Build()
	}

	items := dedupe.Result()
	report.Duplicates = dedupe.Duplicates()
	report.Rows = len(items)
	c.metrics.RecordDuplicates(report.Duplicates)

	if err := c.write(ctx, items); err != nil {
		return report, err
	}
	c.metrics.SetCatalogRows(report.Rows)

	c.logReport(report)
	return report, nil
}

// parseSource parses every input of one source. Records from an input that
// fails part way are dropped, so a source contributes only inputs that
// parsed completely.
func (c *Cleaner) parseSource(ctx context.Context, source ingest.SourceID) (ingest.Stats, []ingest.RawFoodRecord, error) {
	total := ingest.Stats{Source: source}

	paths, err := c.inputs(source)
	if err != nil {
		return total, nil, err
	}

	var records []ingest.RawFoodRecord
	var lastErr error
	parsed := 0
	for _, path := range paths {
		stats, fileRecords, err := c.parseFile(ctx, source, path)
		if err != nil {
			if !errors.IsSourceFormat(err) {
				return total, nil, err
			}
			c.log.Warn("input skipped",
				logger.String("source", string(source)),
				logger.String("path", path),
				logger.Error(err))
			lastErr = err
			continue
		}
		total.Merge(stats)
		records = append(records, fileRecords...)
		parsed++
	}

	if parsed == 0 {
		return total, nil, lastErr
	}
	return total, records, nil
}

// inputs lists the files of a source. A source with nothing on disk is a
// format error for that source.
func (c *Cleaner) inputs(source ingest.SourceID) ([]string, error) {
	location := ingest.SourceLocation(c.settings.Data.RawDir, source)

	if source == ingest.SourceOpenFoodFacts {
		if _, err := os.Stat(location); err != nil {
			return nil, errors.SourceFormatError(err, string(source), location)
		}
		return []string{location}, nil
	}

	paths, err := ingest.DiscoverJSON(location)
	if err != nil {
		return nil, errors.SourceFormatError(err, string(source), location)
	}
	if len(paths) == 0 {
		return nil, errors.SourceFormatError(
			fmt.Errorf("no json files under %s: %w", location, fs.ErrNotExist),
			string(source), location)
	}
	return paths, nil
}

func (c *Cleaner) parseFile(ctx context.Context, source ingest.SourceID, path string) (ingest.Stats, []ingest.RawFoodRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return ingest.Stats{Source: source}, nil, errors.SourceFormatError(err, string(source), path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			c.log.Debug("failed to close input", logger.String("path", path), logger.Error(cerr))
		}
	}()

	var records []ingest.RawFoodRecord
	collect := func(rec ingest.RawFoodRecord) error {
		records = append(records, rec)
		return nil
	}

	var stats ingest.Stats
	if source == ingest.SourceOpenFoodFacts {
		stats, err = ingest.ParseOpenFoodFacts(ctx, f, ingest.OpenFoodFactsOptions{
			MaxRows:   c.settings.Sources.OpenFoodFacts.MaxRows,
			ChunkSize: c.settings.Sources.OpenFoodFacts.ChunkSize,
		}, collect)
	} else {
		stats, err = ingest.ParseUSDA(ctx, f, source, collect)
	}
	if err != nil {
		if errors.IsSourceFormat(err) {
			// attach the file that failed
			return stats, nil, errors.SourceFormatError(err, string(source), path)
		}
		return stats, nil, err
	}

	c.log.Debug("input parsed",
		logger.String("source", string(source)),
		logger.String("path", path),
		logger.Int("accepted", stats.Accepted),
		logger.Int("skipped", stats.SkippedTotal()),
		logger.Bool("capped", stats.Capped))
	return stats, records, nil
}

// write replaces the catalog table and its CSV copy. The CSV is staged and
// checked against items first, the table checks itself inside its
// transaction, and only then is the staged CSV moved into place. A failed
// check leaves the previous catalog as it was.
func (c *Cleaner) write(ctx context.Context, items []catalog.CanonicalIngredient) error {
	csvPath := c.settings.CatalogCSVPath()

	start := time.Now()
	staged, err := datastore.StageCSV(csvPath, items)
	if err == nil {
		err = verifyStaged(staged, items)
		if err != nil {
			_ = os.Remove(staged)
		}
	}
	c.metrics.ObserveStage(metrics.StageVerify, time.Since(start), err)
	if err != nil {
		return err
	}

	start = time.Now()
	err = c.store.ReplaceAll(ctx, items)
	if err != nil {
		_ = os.Remove(staged)
	} else {
		err = datastore.CommitCSV(staged, csvPath)
	}
	c.metrics.ObserveStage(metrics.StageWrite, time.Since(start), err)
	return err
}

func verifyStaged(staged string, items []catalog.CanonicalIngredient) error {
	delimited, err := datastore.ReadCSV(staged)
	if err != nil {
		return err
	}
	return datastore.Verify(items, delimited)
}

func (c *Cleaner) logReport(report *CleanReport) {
	for _, stats := range report.Sources {
		fields := []logger.Field{
			logger.String("source", string(stats.Source)),
			logger.Int("accepted", stats.Accepted),
			logger.Int("skipped", stats.SkippedTotal()),
		}
		for _, reason := range stats.Reasons() {
			fields = append(fields, logger.Int("skipped_"+string(reason), stats.Skipped[reason]))
		}
		if stats.Capped {
			fields = append(fields, logger.Bool("capped", true))
		}
		c.log.Info("source summary", fields...)
	}
	c.log.Info("catalog written",
		logger.Int("rows", report.Rows),
		logger.Int("duplicates", report.Duplicates),
		logger.Int("failed_sources", len(report.Failed)),
		logger.String("csv", report.CSVPath))
}

// VerifyCatalog compares the datastore table with the CSV copy at csvPath
func VerifyCatalog(ctx context.Context, store datastore.Interface, csvPath string) error {
	table, err := store.LoadAll(ctx)
	if err != nil {
		return err
	}
	delimited, err := datastore.ReadCSV(csvPath)
	if err != nil {
		return err
	}
	return datastore.Verify(table, delimited)
}

func skippedByReason(stats ingest.Stats) map[string]int {
	out := make(map[string]int, len(stats.Skipped))
	for reason, n := range stats.Skipped {
		out[string(reason)] = n
	}
	return out
}
