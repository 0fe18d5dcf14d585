// Package monitoring exposes Prometheus metrics for the terminal host.
package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter
	SessionsExited    prometheus.Counter

	// Output metrics
	OutputBytes    prometheus.Counter
	BufferedChunks prometheus.Gauge
	BufferFlushes  prometheus.Counter

	// Watchdog metrics
	WatchdogRetries     prometheus.Counter
	WatchdogExhaustions prometheus.Counter

	// Agent detection metrics
	AgentDetections *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// Persistence metrics
	SnapshotsSaved prometheus.Counter

	startTime time.Time
}

// NewMetrics creates collectors registered on the given registerer.
// Pass nil for the default registry; tests pass prometheus.NewRegistry()
// so repeated construction never double-registers.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termhost_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termhost_sessions_active",
				Help: "Number of live terminal sessions",
			},
		),
		SessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		SessionsDestroyed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_sessions_destroyed_total",
				Help: "Total number of sessions destroyed by request",
			},
		),
		SessionsExited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_sessions_exited_total",
				Help: "Total number of sessions whose process exited on its own",
			},
		),

		OutputBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_output_bytes_total",
				Help: "Total PTY output bytes routed to the consumer",
			},
		),
		BufferedChunks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termhost_buffered_chunks",
				Help: "Output chunks currently held for unacknowledged sessions",
			},
		),
		BufferFlushes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_buffer_flushes_total",
				Help: "Total buffered-output flushes",
			},
		),

		WatchdogRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_watchdog_retries_total",
				Help: "Total initialization re-announcements",
			},
		),
		WatchdogExhaustions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_watchdog_exhaustions_total",
				Help: "Total sessions whose initialization handshake never completed",
			},
		),

		AgentDetections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_agent_detections_total",
				Help: "Total agent detections by type",
			},
			[]string{"agent"},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "termhost_ws_connections",
				Help: "Number of active consumer WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termhost_ws_messages_total",
				Help: "Total WebSocket messages by direction and command",
			},
			[]string{"direction", "command"},
		),

		SnapshotsSaved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "termhost_snapshots_saved_total",
				Help: "Total session snapshots saved to disk",
			},
		),
	}
}

// RecordHTTPRequest records one served request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Uptime returns the time since metrics were created.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
