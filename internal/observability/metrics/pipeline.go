package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics contains Prometheus metrics for the clean and index runs.
// All recording methods are safe on a nil receiver so components can run
// without metrics.
type PipelineMetrics struct {
	recordsAccepted *prometheus.CounterVec
	recordsSkipped  *prometheus.CounterVec
	sourcesFailed   *prometheus.CounterVec
	duplicates      prometheus.Counter
	catalogRows     prometheus.Gauge
	indexEntries    prometheus.Gauge
	embeddedTexts   prometheus.Counter
	stageDuration   *prometheus.HistogramVec

	collectors []prometheus.Collector
}

// NewPipelineMetrics creates and registers pipeline metrics
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.recordsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutrigraph_records_accepted_total",
			Help: "Raw food records accepted by the parsers",
		},
		[]string{"source"},
	)
	m.recordsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutrigraph_records_skipped_total",
			Help: "Raw food records skipped, by reason",
		},
		[]string{"source", "reason"},
	)
	m.sourcesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutrigraph_source_failures_total",
			Help: "Source files aborted by a format error",
		},
		[]string{"source"},
	)
	m.duplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nutrigraph_dedupe_collisions_total",
		Help: "Candidates that collided with an existing normalized name",
	})
	m.catalogRows = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nutrigraph_catalog_rows",
		Help: "Rows in the last written catalog",
	})
	m.indexEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nutrigraph_index_entries",
		Help: "Entries in the vector index after the last write",
	})
	m.embeddedTexts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nutrigraph_embedded_documents_total",
		Help: "Document texts embedded for indexing",
	})
	m.stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nutrigraph_pipeline_stage_duration_seconds",
			Help:    "Time taken by each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
		[]string{"stage", "status"},
	)

	m.collectors = []prometheus.Collector{
		m.recordsAccepted, m.recordsSkipped, m.sourcesFailed, m.duplicates,
		m.catalogRows, m.indexEntries, m.embeddedTexts, m.stageDuration,
	}
}

// Describe implements the Collector interface
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordSourceStats records accepted and per-reason skipped counts
func (m *PipelineMetrics) RecordSourceStats(source string, accepted int, skipped map[string]int) {
	if m == nil {
		return
	}
	m.recordsAccepted.WithLabelValues(source).Add(float64(accepted))
	for reason, n := range skipped {
		m.recordsSkipped.WithLabelValues(source, reason).Add(float64(n))
	}
}

// RecordSourceFailure counts a file aborted by a format error
func (m *PipelineMetrics) RecordSourceFailure(source string) {
	if m == nil {
		return
	}
	m.sourcesFailed.WithLabelValues(source).Inc()
}

// RecordDuplicates adds dedupe collisions
func (m *PipelineMetrics) RecordDuplicates(n int) {
	if m == nil {
		return
	}
	m.duplicates.Add(float64(n))
}

// SetCatalogRows sets the catalog size gauge
func (m *PipelineMetrics) SetCatalogRows(n int) {
	if m == nil {
		return
	}
	m.catalogRows.Set(float64(n))
}

// SetIndexEntries sets the index size gauge
func (m *PipelineMetrics) SetIndexEntries(n int) {
	if m == nil {
		return
	}
	m.indexEntries.Set(float64(n))
}

// RecordEmbedded counts embedded documents
func (m *PipelineMetrics) RecordEmbedded(n int) {
	if m == nil {
		return
	}
	m.embeddedTexts.Add(float64(n))
}

// ObserveStage records how long a stage took and whether it failed
func (m *PipelineMetrics) ObserveStage(stage string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, statusOf(err)).Observe(elapsed.Seconds())
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
