package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/nutrigraph/internal/catalog"
	"github.com/tphakala/nutrigraph/internal/datastore"
	"github.com/tphakala/nutrigraph/internal/embedding"
	"github.com/tphakala/nutrigraph/internal/logger"
	"github.com/tphakala/nutrigraph/internal/observability/metrics"
	"github.com/tphakala/nutrigraph/internal/vectorindex"
)

// IndexWriter is the write side of the vector index
type IndexWriter interface {
	Rebuild(ctx context.Context, entries []vectorindex.Entry) error
	UpsertBatch(ctx context.Context, entries []vectorindex.Entry) error
	Count() int
}

// IndexOptions controls one index run
type IndexOptions struct {
	// TopN is the working set size; 0 means catalog.DefaultSelectSize
	TopN int
	// Recreate replaces the collection instead of upserting into it
	Recreate bool
}

// IndexReport summarizes one index run
type IndexReport struct {
	Selected int
	Entries  int
	Embedder string
}

// Indexer selects the working set from the catalog, embeds it and writes
// it to the vector index.
type Indexer struct {
	store    datastore.Interface
	embedder embedding.Embedder
	index    IndexWriter
	metrics  *metrics.PipelineMetrics
	log      logger.Logger
}

// NewIndexer wires an Indexer. The store must already be open.
func NewIndexer(store datastore.Interface, embedder embedding.Embedder, index IndexWriter, m *metrics.PipelineMetrics, log logger.Logger) *Indexer {
	if log == nil {
		log = logger.Global().Module("pipeline")
	}
	return &Indexer{store: store, embedder: embedder, index: index, metrics: m, log: log}
}

// Run executes the index stage. Nothing is written unless every document
// embedded successfully.
func (ix *Indexer) Run(ctx context.Context, opts IndexOptions) (*IndexReport, error) {
	report := &IndexReport{Embedder: ix.embedder.Name()}
	if opts.TopN <= 0 {
		opts.TopN = catalog.DefaultSelectSize
	}

	items, err := ix.store.LoadAll(ctx)
	if err != nil {
		return report, err
	}

	start := time.Now()
	selected := catalog.Select(items, opts.TopN)
	ix.metrics.ObserveStage(metrics.StageSelect, time.Since(start), nil)
	report.Selected = len(selected)

	if len(selected) == 0 {
		ix.log.Warn("catalog is empty, nothing to index")
		if opts.Recreate {
			// an explicit recreate still leaves an empty, valid collection
			if err := ix.index.Rebuild(ctx, nil); err != nil {
				return report, err
			}
		}
		ix.metrics.SetIndexEntries(ix.index.Count())
		return report, nil
	}

	entries := BuildEntries(selected)
	documents := make([]string, len(entries))
	for i := range entries {
		documents[i] = entries[i].Document
	}

	start = time.Now()
	vectors, err := ix.embedder.Embed(ctx, documents)
	ix.metrics.ObserveStage(metrics.StageEmbed, time.Since(start), err)
	if err != nil {
		return report, err
	}
	for i := range entries {
		entries[i].Vector = vectors[i]
	}
	ix.metrics.RecordEmbedded(len(entries))

	start = time.Now()
	if opts.Recreate {
		err = ix.index.Rebuild(ctx, entries)
	} else {
		err = ix.index.UpsertBatch(ctx, entries)
	}
	ix.metrics.ObserveStage(metrics.StageIndex, time.Since(start), err)
	if err != nil {
		return report, err
	}

	report.Entries = ix.index.Count()
	ix.metrics.SetIndexEntries(report.Entries)
	ix.log.Info("index written",
		logger.Int("selected", report.Selected),
		logger.Int("entries", report.Entries),
		logger.Bool("recreate", opts.Recreate),
		logger.String("embedder", report.Embedder))
	return report, nil
}

// BuildEntries converts the selected working set into index entries with
// ids ing_{rank}, rank being the position in the selection.
func BuildEntries(selected []*catalog.CanonicalIngredient) []vectorindex.Entry {
	entries := make([]vectorindex.Entry, len(selected))
	for rank, c := range selected {
		entries[rank] = vectorindex.Entry{
			ID:             fmt.Sprintf("ing_%d", rank),
			Rank:           rank,
			NameNormalized: c.NameNormalized,
			Name:           catalog.TruncateName(c.Name),
			Source:         string(c.Source),
			FdcID:          c.ExternalID,
			EnergyKcal:     c.EnergyKcal,
			ProteinG:       c.ProteinG,
			CarbohydratesG: c.CarbohydratesG,
			FatG:           c.FatG,
			Document:       c.DocumentText(),
		}
	}
	return entries
}
