package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics counts API requests by route template. Methods are safe on a
// nil receiver so the server runs without metrics in tests.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// NewHTTPMetrics creates and registers HTTP metrics
func NewHTTPMetrics(registry prometheus.Registerer) (*HTTPMetrics, error) {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nutrigraph_http_requests_total",
			Help: "API requests by method, route and status code",
		}, []string{"method", "path", "status_code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nutrigraph_http_request_duration_seconds",
			Help:    "API request latency by method and route",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount12),
		}, []string{"method", "path"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nutrigraph_http_requests_in_flight",
			Help: "API requests currently being served",
		}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.latency, m.inFlight} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RequestStarted increments the in-flight gauge
func (m *HTTPMetrics) RequestStarted() {
	if m != nil {
		m.inFlight.Inc()
	}
}

// RecordRequest records a finished request. path is the route template, so
// unmatched URLs do not create new series.
func (m *HTTPMetrics) RecordRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
