// Package metrics holds the gateway's Prometheus collectors, served from
// the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates every collector the gateway updates on its data path.
type Metrics struct {
	PublishTotal    *prometheus.CounterVec
	PublishDuration *prometheus.HistogramVec
	BreakerState    prometheus.Gauge
	QueryDuration   *prometheus.HistogramVec
	RowsSkipped     *prometheus.CounterVec
	MockBufferDepth *prometheus.GaugeVec
}

// New registers the gateway collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorgate_publish_total",
			Help: "Publish outcomes by topic and result.",
		}, []string{"topic", "result"}),
		PublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sensorgate_publish_duration_seconds",
			Help:    "End-to-end publish latency including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensorgate_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sensorgate_query_duration_seconds",
			Help:    "Historical query latency by operation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		RowsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorgate_query_rows_skipped_total",
			Help: "Result rows dropped because a field failed to parse.",
		}, []string{"operation"}),
		MockBufferDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensorgate_mock_buffer_depth",
			Help: "Messages retained per topic by the mock transport.",
		}, []string{"topic"}),
	}

	reg.MustRegister(
		m.PublishTotal,
		m.PublishDuration,
		m.BreakerState,
		m.QueryDuration,
		m.RowsSkipped,
		m.MockBufferDepth,
	)

	return m
}

// NewUnregistered returns collectors without registering them; test helper.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
