package expand

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for engine operations. A nil *Metrics
// records nothing.
type Metrics struct {
	operationsTotal    *prometheus.CounterVec
	operationDuration  *prometheus.HistogramVec
	rowsPersisted      *prometheus.CounterVec
	validationFailures *prometheus.CounterVec
}

// NewMetrics creates the engine collectors on reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "expandable",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Total number of engine operations by outcome",
			},
			[]string{"host_type", "operation", "status"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "expandable",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Duration of engine operations",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"host_type", "operation"},
		),
		rowsPersisted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "expandable",
				Subsystem: "engine",
				Name:      "rows_persisted_total",
				Help:      "Total number of attribute rows upserted",
			},
			[]string{"host_type"},
		),
		validationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "expandable",
				Subsystem: "engine",
				Name:      "validation_failures_total",
				Help:      "Total number of writes rejected by validation",
			},
			[]string{"host_type"},
		),
	}
}

func (m *Metrics) observe(hostType, operation string, err error, start time.Time) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(hostType, operation, status).Inc()
	m.operationDuration.WithLabelValues(hostType, operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) persisted(hostType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.rowsPersisted.WithLabelValues(hostType).Add(float64(n))
}

func (m *Metrics) rejected(hostType string) {
	if m == nil {
		return
	}
	m.validationFailures.WithLabelValues(hostType).Inc()
}
