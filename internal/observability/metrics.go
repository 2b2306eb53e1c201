package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voxrelay"

type moduleMetrics struct {
	commandsEnqueued *prometheus.CounterVec
	commandsDrained  prometheus.Counter
	commandsEvicted  prometheus.Counter
	pendingCommands  prometheus.Gauge
	activeCalls      prometheus.Gauge
	drainBatchSize   prometheus.Histogram

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rateLimitedTotal    prometheus.Counter

	catalogReloads *prometheus.CounterVec

	sessionCalls   prometheus.Gauge
	sessionEvicted prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			commandsEnqueued: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "commands_enqueued_total",
					Help:      "Commands enqueued by kind.",
				},
				[]string{"kind"},
			),
			commandsDrained: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "commands_drained_total",
					Help:      "Commands handed to pollers.",
				},
			),
			commandsEvicted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "commands_evicted_total",
					Help:      "Commands dropped by TTL eviction before any poll.",
				},
			),
			pendingCommands: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "pending_commands",
					Help:      "Commands buffered across all calls.",
				},
			),
			activeCalls: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_calls",
					Help:      "Call IDs with at least one buffered command.",
				},
			),
			drainBatchSize: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "drain_batch_size",
					Help:      "Commands returned per non-empty drain.",
					Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "tool_execution_total",
					Help:      "Tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "tool_execution_duration_seconds",
					Help:      "Tool execution duration in seconds by tool.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			httpRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "http_requests_total",
					Help:      "HTTP requests by route and status code.",
				},
				[]string{"route", "code"},
			),
			httpRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "http_request_duration_seconds",
					Help:      "HTTP request duration in seconds by route.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"route"},
			),
			rateLimitedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "http_rate_limited_total",
					Help:      "Requests rejected by the per-IP rate limiter.",
				},
			),
			catalogReloads: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "catalog_reloads_total",
					Help:      "Catalog and service-area file reloads by source and status.",
				},
				[]string{"source", "status"},
			),
			sessionCalls: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "session_calls",
					Help:      "Calls with server-side session state.",
				},
			),
			sessionEvicted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "session_evicted_total",
					Help:      "Call sessions dropped by TTL eviction.",
				},
			),
		}

		prometheus.MustRegister(
			m.commandsEnqueued,
			m.commandsDrained,
			m.commandsEvicted,
			m.pendingCommands,
			m.activeCalls,
			m.drainBatchSize,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.httpRequestsTotal,
			m.httpRequestDuration,
			m.rateLimitedTotal,
			m.catalogReloads,
			m.sessionCalls,
			m.sessionEvicted,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordEnqueue counts one command and refreshes the buffer gauges.
func RecordEnqueue(kind string, calls, pending int) {
	m := getMetrics()
	m.commandsEnqueued.WithLabelValues(kind).Inc()
	SetQueueDepth(calls, pending)
}

// RecordDrain counts a drain of n commands and refreshes the buffer gauges.
func RecordDrain(n, calls, pending int) {
	m := getMetrics()
	if n > 0 {
		m.commandsDrained.Add(float64(n))
		m.drainBatchSize.Observe(float64(n))
	}
	SetQueueDepth(calls, pending)
}

func RecordEviction(n, calls, pending int) {
	m := getMetrics()
	m.commandsEvicted.Add(float64(n))
	SetQueueDepth(calls, pending)
}

func SetQueueDepth(calls, pending int) {
	m := getMetrics()
	m.activeCalls.Set(float64(calls))
	m.pendingCommands.Set(float64(pending))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	m.toolExecutionTotal.WithLabelValues(tool, statusLabel(success)).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordHTTPRequest(route string, code string, duration time.Duration) {
	m := getMetrics()
	m.httpRequestsTotal.WithLabelValues(route, code).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func RecordRateLimited() {
	getMetrics().rateLimitedTotal.Inc()
}

func RecordCatalogReload(source string, success bool) {
	getMetrics().catalogReloads.WithLabelValues(source, statusLabel(success)).Inc()
}

// SetSessionCount reports how many calls hold session state.
func SetSessionCount(calls int) {
	getMetrics().sessionCalls.Set(float64(calls))
}

func RecordSessionEviction(n, calls int) {
	m := getMetrics()
	m.sessionEvicted.Add(float64(n))
	m.sessionCalls.Set(float64(calls))
}
