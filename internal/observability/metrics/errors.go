package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/nutrigraph/internal/errors"
)

// ErrorMetrics counts enhanced errors as they are built, by component and
// category. It is fed by an errors package hook.
type ErrorMetrics struct {
	errorsTotal *prometheus.CounterVec
}

// NewErrorMetrics creates and registers the error counter
func NewErrorMetrics(registry prometheus.Registerer) (*ErrorMetrics, error) {
	m := &ErrorMetrics{
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nutrigraph_errors_total",
				Help: "Enhanced errors built, by component and category",
			},
			[]string{"component", "category"},
		),
	}
	if err := registry.Register(m.errorsTotal); err != nil {
		return nil, err
	}
	return m, nil
}

// Hook returns an errors.ErrorHook that feeds this counter
func (m *ErrorMetrics) Hook() errors.ErrorHook {
	return func(ee *errors.EnhancedError) {
		m.errorsTotal.WithLabelValues(ee.GetComponent(), ee.GetCategory()).Inc()
	}
}
