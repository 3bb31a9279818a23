// Package observability provides Prometheus metrics for NutriGraph.
// Sentry error telemetry lives in the telemetry package.
package observability

import (
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tphakala/nutrigraph/internal/errors"
	"github.com/tphakala/nutrigraph/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry  *prometheus.Registry
	Pipeline  *metrics.PipelineMetrics
	Retrieval *metrics.RetrievalMetrics
	HTTP      *metrics.HTTPMetrics
	Errors    *metrics.ErrorMetrics
}

// NewMetrics creates a registry with all collectors registered. Each call
// has its own registry, so callers and tests never collide.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("failed to register Go collector: %w", err)
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, fmt.Errorf("failed to register process collector: %w", err)
	}

	pipelineMetrics, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline metrics: %w", err)
	}

	retrievalMetrics, err := metrics.NewRetrievalMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrieval metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	errorMetrics, err := metrics.NewErrorMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create error metrics: %w", err)
	}

	return &Metrics{
		registry:  registry,
		Pipeline:  pipelineMetrics,
		Retrieval: retrievalMetrics,
		HTTP:      httpMetrics,
		Errors:    errorMetrics,
	}, nil
}

// CountErrors hooks the error counter into the errors package
func (m *Metrics) CountErrors() {
	errors.AddErrorHook(m.Errors.Hook())
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}
