package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RetrievalMetrics contains Prometheus metrics for the query path. Methods
// are safe on a nil receiver.
type RetrievalMetrics struct {
	queriesTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	resultCount   prometheus.Histogram

	collectors []prometheus.Collector
}

// NewRetrievalMetrics creates and registers retrieval metrics
func NewRetrievalMetrics(registry prometheus.Registerer) (*RetrievalMetrics, error) {
	m := &RetrievalMetrics{}
	m.queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nutrigraph_retrieval_queries_total",
			Help: "Retrieval requests by outcome",
		},
		[]string{"status", "error_category"},
	)
	m.queryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nutrigraph_retrieval_duration_seconds",
			Help:    "Time spent embedding and searching per query",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms/10, BucketFactor2, BucketCount15),
		},
		[]string{"phase"},
	)
	m.resultCount = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nutrigraph_retrieval_results",
		Help:    "Number of results returned per query",
		Buckets: []float64{0, 1, 3, 5, 10, 20, 50},
	})
	m.collectors = []prometheus.Collector{m.queriesTotal, m.queryDuration, m.resultCount}

	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Describe implements the Collector interface
func (m *RetrievalMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *RetrievalMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordQuery records the outcome of one retrieval. category is the error
// category for failures and empty otherwise.
func (m *RetrievalMetrics) RecordQuery(results int, category string, err error) {
	if m == nil {
		return
	}
	status := statusOf(err)
	if err == nil && results == 0 {
		status = StatusEmpty
	}
	m.queriesTotal.WithLabelValues(status, category).Inc()
	if err == nil {
		m.resultCount.Observe(float64(results))
	}
}

// ObservePhase records the time spent in one query phase (StageQueryEmbd
// or StageQuery)
func (m *RetrievalMetrics) ObservePhase(phase string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}
