package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientMetrics records the outcome of store operations as seen by the
// request engine. Implementations must be safe for concurrent use.
type ClientMetrics interface {
	// RecordOperation records one completed operation: its final HTTP
	// status (0 for transport-only failures), how many retries it took,
	// and the latency of the last attempt.
	RecordOperation(op string, httpStatus int, retries int, latency time.Duration)

	// RecordPayloadBytes records request or response body bytes moved for
	// an operation.
	RecordPayloadBytes(op string, n int64)
}

// clientMetrics is the Prometheus implementation of ClientMetrics.
type clientMetrics struct {
	operations *prometheus.CounterVec
	retries    *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
}

var (
	sharedClientMetrics     ClientMetrics
	sharedClientMetricsOnce sync.Once
)

// NewClientMetrics returns the Prometheus-backed ClientMetrics. Returns a
// no-op implementation when InitRegistry has not been called. The metrics
// instance is shared: every client reports into the same collectors,
// labeled by operation.
func NewClientMetrics() ClientMetrics {
	if !IsEnabled() {
		return NoopClientMetrics()
	}
	sharedClientMetricsOnce.Do(func() {
		sharedClientMetrics = newPrometheusClientMetrics()
	})
	return sharedClientMetrics
}

func newPrometheusClientMetrics() ClientMetrics {
	reg := GetRegistry()
	return &clientMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "lakestore_client_operations_total",
				Help: "Total number of store operations, by operation and HTTP status",
			},
			[]string{"operation", "status"},
		),
		retries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "lakestore_client_retries_total",
				Help: "Total number of retries performed, by operation",
			},
			[]string{"operation"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lakestore_client_operation_duration_seconds",
				Help:    "Latency of the last attempt of each operation",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"operation"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "lakestore_client_payload_bytes_total",
				Help: "Request and response body bytes moved, by operation",
			},
			[]string{"operation"},
		),
	}
}

func (m *clientMetrics) RecordOperation(op string, httpStatus int, retries int, latency time.Duration) {
	m.operations.WithLabelValues(op, strconv.Itoa(httpStatus)).Inc()
	if retries > 0 {
		m.retries.WithLabelValues(op).Add(float64(retries))
	}
	m.duration.WithLabelValues(op).Observe(latency.Seconds())
}

func (m *clientMetrics) RecordPayloadBytes(op string, n int64) {
	if n > 0 {
		m.bytes.WithLabelValues(op).Add(float64(n))
	}
}

type noopClientMetrics struct{}

func (noopClientMetrics) RecordOperation(string, int, int, time.Duration) {}
func (noopClientMetrics) RecordPayloadBytes(string, int64)               {}

// NoopClientMetrics returns a ClientMetrics that records nothing.
func NoopClientMetrics() ClientMetrics {
	return noopClientMetrics{}
}
