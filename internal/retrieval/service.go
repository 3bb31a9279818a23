// Package retrieval answers "which ingredients match this text" by
// embedding the query and searching the vector index. It never writes to
// the index.
package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/tphakala/nutrigraph/internal/catalog"
	"github.com/tphakala/nutrigraph/internal/embedding"
	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/logger"
	"github.com/tphakala/nutrigraph/internal/observability/metrics"
	"github.com/tphakala/nutrigraph/internal/vectorindex"
)

// Defaults for Options fields left at zero
const (
	DefaultK            = 5
	DefaultMaxK         = 50
	DefaultQueryTimeout = 5 * time.Second

	// boostOverfetch is how many extra candidates per requested result are
	// scored when the keyword boost may reorder them
	boostOverfetch = 4
)

// Searcher is the read side of the vector index
type Searcher interface {
	Query(ctx context.Context, vector []float32, k int) ([]vectorindex.Result, error)
	Meta() vectorindex.Meta
}

// Options tunes the query path
type Options struct {
	DefaultK     int
	MaxK         int
	QueryTimeout time.Duration
	// KeywordBoost is added to the similarity of results whose normalized
	// name contains the normalized query; 0 disables it
	KeywordBoost float64
	Metrics      *metrics.RetrievalMetrics
	Logger       logger.Logger
}

// Match is one retrieved ingredient
type Match struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	NameNormalized string   `json:"name_normalized"`
	Source         string   `json:"source"`
	FdcID          string   `json:"fdc_id,omitempty"`
	EnergyKcal     *float64 `json:"energy_kcal"`
	ProteinG       *float64 `json:"protein_g"`
	CarbohydratesG *float64 `json:"carbohydrates_g"`
	FatG           *float64 `json:"fat_g"`
	Similarity     float64  `json:"similarity"`
}

// Service embeds queries and searches the index
type Service struct {
	embedder embedding.Embedder
	index    Searcher
	opts     Options
	log      logger.Logger
}

// New builds a Service. A mismatch between the embedder and the one that
// built the index is logged, since similarities would then be meaningless.
func New(embedder embedding.Embedder, index Searcher, opts Options) *Service {
	if opts.DefaultK <= 0 {
		opts.DefaultK = DefaultK
	}
	if opts.MaxK <= 0 {
		opts.MaxK = DefaultMaxK
	}
	opts.DefaultK = min(opts.DefaultK, opts.MaxK)
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.Global().Module("retrieval")
	}

	s := &Service{embedder: embedder, index: index, opts: opts, log: opts.Logger}

	meta := index.Meta()
	if meta.Count > 0 && (meta.Embedder != embedder.Name() || meta.Dimension != embedder.Dimension()) {
		s.log.Warn("index was built with a different embedder",
			logger.String("index_embedder", meta.Embedder),
			logger.Int("index_dimension", meta.Dimension),
			logger.String("query_embedder", embedder.Name()),
			logger.Int("query_dimension", embedder.Dimension()))
	}
	return s
}

// ClampK applies the default and ceiling to a requested result count
func (s *Service) ClampK(k int) int {
	if k <= 0 {
		return s.opts.DefaultK
	}
	return min(k, s.opts.MaxK)
}

// Retrieve returns up to k matches for text, most similar first. An empty
// result means nothing matched; embedding and index failures are returned
// as errors.
func (s *Service) Retrieve(ctx context.Context, text string, k int) ([]Match, error) {
	matches, err := s.retrieve(ctx, text, k)
	s.opts.Metrics.RecordQuery(len(matches), categoryOf(err), err)
	return matches, err
}

func (s *Service) retrieve(ctx context.Context, text string, k int) ([]Match, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.ValidationError("query text is empty")
	}
	k = s.ClampK(k)

	start := time.Now()
	vector, err := s.embedQuery(ctx, text)
	s.opts.Metrics.ObservePhase(metrics.StageQueryEmbd, time.Since(start))
	if err != nil {
		return nil, err
	}

	fetch := k
	if s.opts.KeywordBoost > 0 {
		fetch = k * boostOverfetch
	}

	start = time.Now()
	results, err := s.index.Query(ctx, vector, fetch)
	s.opts.Metrics.ObservePhase(metrics.StageQuery, time.Since(start))
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(results))
	for i := range results {
		matches[i] = toMatch(&results[i])
	}
	if s.opts.KeywordBoost > 0 {
		matches = applyKeywordBoost(matches, catalog.NormalizeName(text), s.opts.KeywordBoost)
	}
	if len(matches) > k {
		matches = matches[:k]
	}

	s.log.Debug("query served",
		logger.String("query", text),
		logger.Int("k", k),
		logger.Int("results", len(matches)))
	return matches, nil
}

// embedQuery embeds one text under the query timeout. Any failure other
// than the caller's own cancellation is an embedding failure.
func (s *Service) embedQuery(ctx context.Context, text string) ([]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, s.opts.QueryTimeout)
	defer cancel()

	vectors, err := s.embedder.Embed(embedCtx, []string{text})
	if err == nil && len(vectors) != 1 {
		err = errors.Newf("embedder returned %d vectors for one query", len(vectors)).Build()
	}
	switch {
	case err == nil:
		return vectors[0], nil
	case errors.IsEmbeddingFailure(err):
		return nil, err
	case ctx.Err() != nil:
		return nil, errors.New(err).
			Component("retrieval").
			Category(errors.CategoryCancellation).
			Build()
	default:
		// includes the query timeout firing
		return nil, errors.EmbeddingFailureError(err, s.embedder.Name(), 1)
	}
}

// RetrieveMany runs Retrieve for each non-blank query. Duplicate queries are
// answered once. The first error aborts the batch.
func (s *Service) RetrieveMany(ctx context.Context, queries []string, k int) (map[string][]Match, error) {
	out := make(map[string][]Match, len(queries))
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, done := out[q]; done {
			continue
		}
		matches, err := s.Retrieve(ctx, q, k)
		if err != nil {
			return nil, err
		}
		out[q] = matches
	}
	return out, nil
}

// Meta reports the index the service reads
func (s *Service) Meta() vectorindex.Meta {
	return s.index.Meta()
}

func toMatch(r *vectorindex.Result) Match {
	e := &r.Entry
	return Match{
		ID:             e.ID,
		Name:           e.Name,
		NameNormalized: e.NameNormalized,
		Source:         e.Source,
		FdcID:          e.FdcID,
		EnergyKcal:     e.EnergyKcal,
		ProteinG:       e.ProteinG,
		CarbohydratesG: e.CarbohydratesG,
		FatG:           e.FatG,
		Similarity:     r.Similarity,
	}
}

func categoryOf(err error) string {
	if err == nil {
		return ""
	}
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return ee.GetCategory()
	}
	return string(errors.CategoryGeneric)
}
