package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric exported by reclaim.
const Namespace = "reclaim"

// IndexMetrics holds metrics related to index service calls.
type IndexMetrics struct {
	// LatencyHistogram tracks index call latencies broken down by operation and status.
	// Labels: operation (list, get, put, delete), status (ok, not_found, transient, fatal)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total index calls by operation and status.
	RequestsTotal *prometheus.CounterVec
}

// DefaultIndexLatencyBuckets are latency buckets for index calls. Index
// calls are small key/value requests, typically well under 100ms.
var DefaultIndexLatencyBuckets = []float64{
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.002,  // 2ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	2.5,    // 2.5s
	5.0,    // 5s
	30.0,   // 30s
}

// NewIndexMetrics creates and registers index metrics with the default registry.
func NewIndexMetrics() *IndexMetrics {
	return NewIndexMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewIndexMetricsWithRegistry creates index metrics registered with a custom registry.
func NewIndexMetricsWithRegistry(reg prometheus.Registerer) *IndexMetrics {
	factory := promauto.With(reg)
	return &IndexMetrics{
		LatencyHistogram: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "index",
				Name:      "operation_latency_seconds",
				Help:      "Index call latency in seconds, broken down by operation and status.",
				Buckets:   DefaultIndexLatencyBuckets,
			},
			[]string{"operation", "status"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "index",
				Name:      "operations_total",
				Help:      "Total number of index calls, broken down by operation and status.",
			},
			[]string{"operation", "status"},
		),
	}
}

// RecordIndexOp records one index call. status is the index status name,
// e.g. "ok" or "not_found".
func (m *IndexMetrics) RecordIndexOp(op string, durationSeconds float64, status string) {
	m.LatencyHistogram.WithLabelValues(op, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(op, status).Inc()
}
