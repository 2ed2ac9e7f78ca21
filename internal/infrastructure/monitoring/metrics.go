package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cleanup reasons recorded on SessionCleanups.
const (
	ReasonExit       = "exit"
	ReasonIdle       = "idle"
	ReasonDisconnect = "disconnect"
	ReasonTerminated = "terminated"
	ReasonShutdown   = "shutdown"
	ReasonEvicted    = "evicted"
	ReasonFinalizer  = "finalizer"
)

// Metrics holds all Prometheus metrics.
//
// Every method is safe on a nil *Metrics, so components can be built without
// instrumentation in tests.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Service metrics
	ServiceCalls    *prometheus.CounterVec
	ServiceDuration *prometheus.HistogramVec

	// Terminal session metrics
	SessionsActive     prometheus.Gauge
	SessionsSpawned    prometheus.Counter
	SessionsReattached prometheus.Counter
	SessionCleanups    *prometheus.CounterVec
	CapacityRejections prometheus.Counter
	SpawnFailures      prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec
	BytesRelayed  *prometheus.CounterVec

	startTime time.Time

	// Snapshot for the JSON health view
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	ActiveSessions    int64   `json:"active_sessions"`
	ActiveConnections int64   `json:"active_connections"`
	SessionsSpawned   int64   `json:"sessions_spawned"`
	UptimeSeconds     float64 `json:"uptime_seconds"`
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webshell_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webshell_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// Service metrics
		ServiceCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webshell_service_calls_total",
				Help: "Total number of internal service operations",
			},
			[]string{"service", "method", "status"},
		),
		ServiceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webshell_service_duration_seconds",
				Help:    "Internal service operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "method"},
		),

		// Terminal session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webshell_sessions_active",
				Help: "Number of live or spawning terminal sessions",
			},
		),
		SessionsSpawned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webshell_sessions_spawned_total",
				Help: "Total number of shells spawned",
			},
		),
		SessionsReattached: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webshell_sessions_reattached_total",
				Help: "Total number of connections that resumed an existing session",
			},
		),
		SessionCleanups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webshell_session_cleanups_total",
				Help: "Total number of sessions reclaimed, by reason",
			},
			[]string{"reason"},
		),
		CapacityRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webshell_capacity_rejections_total",
				Help: "Total number of session requests refused at the capacity limit",
			},
		),
		SpawnFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "webshell_spawn_failures_total",
				Help: "Total number of shells that failed to start",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "webshell_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webshell_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
		BytesRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webshell_bytes_relayed_total",
				Help: "Total terminal bytes relayed between PTY and browser",
			},
			[]string{"direction"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "webshell_uptime_seconds",
			Help: "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordServiceCall records an internal operation
func (m *Metrics) RecordServiceCall(service, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ServiceCalls.WithLabelValues(service, method, status).Inc()
	m.ServiceDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// SetSessionsActive sets the number of live or spawning sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// IncSessionsSpawned increments the spawned shells counter
func (m *Metrics) IncSessionsSpawned() {
	if m == nil {
		return
	}
	m.SessionsSpawned.Inc()
	m.mu.Lock()
	m.snapshot.SessionsSpawned++
	m.mu.Unlock()
}

// IncSessionsReattached increments the reattach counter
func (m *Metrics) IncSessionsReattached() {
	if m == nil {
		return
	}
	m.SessionsReattached.Inc()
}

// RecordCleanup counts a reclaimed session under reason
func (m *Metrics) RecordCleanup(reason string) {
	if m == nil {
		return
	}
	m.SessionCleanups.WithLabelValues(reason).Inc()
}

// IncCapacityRejections counts a request refused at the session limit
func (m *Metrics) IncCapacityRejections() {
	if m == nil {
		return
	}
	m.CapacityRejections.Inc()
}

// IncSpawnFailures counts a shell that failed to start
func (m *Metrics) IncSpawnFailures() {
	if m == nil {
		return
	}
	m.SpawnFailures.Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// AddBytes adds n relayed bytes in direction ("in" toward the shell, "out"
// toward the browser)
func (m *Metrics) AddBytes(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesRelayed.WithLabelValues(direction).Add(float64(n))
}

// Snapshot returns the current values for the JSON API
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
