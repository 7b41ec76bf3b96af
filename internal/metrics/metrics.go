package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Manager owns the package's Prometheus registry and metric handles. A
// singleton keeps registration idempotent no matter how many sessions or
// helpers a process creates.
type Manager struct {
	kvOperationsTotal *prometheus.CounterVec
	kvDuration        *prometheus.HistogramVec
	queryTotal        *prometheus.CounterVec
	queryDuration     prometheus.Histogram
	retryTotal        *prometheus.CounterVec
	sessionsConnected prometheus.Gauge

	registry    *prometheus.Registry
	initialized bool
	mu          sync.Mutex
}

var (
	instance *Manager
	once     sync.Once
)

// getInstance returns the singleton Manager.
func getInstance() *Manager {
	once.Do(func() {
		instance = &Manager{
			registry: prometheus.NewRegistry(),
		}
	})
	return instance
}

// initialize registers all operation metrics (thread-safe, idempotent).
func (m *Manager) initialize() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return
	}

	m.kvOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couchkit_kv_operations_total",
			Help: "Total number of key-value operations",
		},
		[]string{"operation", "status"},
	)

	m.kvDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "couchkit_kv_operation_duration_seconds",
			Help:    "Duration of key-value operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	m.queryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couchkit_query_operations_total",
			Help: "Total number of SQL++ query executions",
		},
		[]string{"status"},
	)

	m.queryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "couchkit_query_duration_seconds",
			Help:    "Duration of SQL++ query executions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.retryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "couchkit_retry_attempts_total",
			Help: "Total number of retried operation attempts",
		},
		[]string{"policy"},
	)

	m.sessionsConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "couchkit_sessions_connected",
			Help: "Number of currently connected sessions",
		},
	)

	m.registry.MustRegister(
		m.kvOperationsTotal,
		m.kvDuration,
		m.queryTotal,
		m.queryDuration,
		m.retryTotal,
		m.sessionsConnected,
	)

	m.initialized = true
}

// Registry returns the Prometheus registry holding all couchkit metrics,
// for exposure through an HTTP handler.
func Registry() *prometheus.Registry {
	m := getInstance()
	m.initialize()
	return m.registry
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordKVOperation records the outcome and duration of one key-value or
// view operation.
func RecordKVOperation(operation string, success bool, duration time.Duration) {
	m := getInstance()
	m.initialize()

	m.kvOperationsTotal.WithLabelValues(operation, statusLabel(success)).Inc()
	m.kvDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordQuery records the outcome and duration of one query execution.
func RecordQuery(success bool, duration time.Duration) {
	m := getInstance()
	m.initialize()

	m.queryTotal.WithLabelValues(statusLabel(success)).Inc()
	m.queryDuration.Observe(duration.Seconds())
}

// RecordRetry records one retried attempt under the given policy.
func RecordRetry(policy string) {
	m := getInstance()
	m.initialize()

	m.retryTotal.WithLabelValues(policy).Inc()
}

// SessionConnected increments the connected session gauge.
func SessionConnected() {
	m := getInstance()
	m.initialize()

	m.sessionsConnected.Inc()
}

// SessionDisconnected decrements the connected session gauge.
func SessionDisconnected() {
	m := getInstance()
	m.initialize()

	m.sessionsConnected.Dec()
}
