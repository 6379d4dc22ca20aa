// Package metrics exposes the gateway's Prometheus registry and a
// background system-resource sampler.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the gateway registers.
type Metrics struct {
	connectionsTotal   prometheus.Counter
	connectionsActive  prometheus.Gauge
	connectionDuration prometheus.Histogram
	connectionsErrors  prometheus.Counter

	sessionsActive       prometheus.Gauge
	sessionsAuthenticated prometheus.Gauge
	sessionsExpired      prometheus.Counter

	proxyPairsActive     prometheus.Gauge
	proxyPairsEstablished prometheus.Counter
	proxyBackendErrors   prometheus.Counter
	proxyBytesClientToBackend prometheus.Counter
	proxyBytesBackendToClient prometheus.Counter

	httpRequestsTotal *prometheus.CounterVec
	httpRequestDuration prometheus.Histogram

	errorsTotal  prometheus.Counter
	errorsByType *prometheus.CounterVec

	goroutinesCount prometheus.Gauge
	memoryUsage     prometheus.Gauge
	cpuUsage        prometheus.Gauge

	startTime time.Time
	mu        sync.RWMutex
	active    int64
}

// New registers and returns the gateway's metric set.
func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "terminalgw_connections_total",
			Help: "Total number of client connections accepted",
		}),
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "terminalgw_connections_active",
			Help: "Number of currently open client connections",
		}),
		connectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "terminalgw_connection_duration_seconds",
			Help:    "Duration of client connections",
			Buckets: prometheus.DefBuckets,
		}),
		connectionsErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "terminalgw_connection_errors_total",
			Help: "Total number of connection-level errors",
		}),

		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "terminalgw_sessions_active",
			Help: "Number of live sessions, authenticated or not",
		}),
		sessionsAuthenticated: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "terminalgw_sessions_authenticated",
			Help: "Number of authenticated sessions",
		}),
		sessionsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "terminalgw_sessions_expired_total",
			Help: "Total number of sessions reaped by the expiry sweep",
		}),

		proxyPairsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "terminalgw_proxy_pairs_active",
			Help: "Number of client<->backend proxy pairs currently forwarding",
		}),
		proxyPairsEstablished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "terminalgw_proxy_pairs_established_total",
			Help: "Total number of proxy pairs that completed the backend handshake",
		}),
		proxyBackendErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "terminalgw_proxy_backend_errors_total",
			Help: "Total number of backend dial/handshake/forwarding errors",
		}),
		proxyBytesClientToBackend: promauto.NewCounter(prometheus.CounterOpts{
			Name: "terminalgw_proxy_bytes_client_to_backend_total",
			Help: "Total bytes forwarded from clients to the backend",
		}),
		proxyBytesBackendToClient: promauto.NewCounter(prometheus.CounterOpts{
			Name: "terminalgw_proxy_bytes_backend_to_client_total",
			Help: "Total bytes forwarded from the backend to clients",
		}),

		httpRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "terminalgw_http_requests_total",
			Help: "Total HTTP requests handled by the router, by path and status class",
		}, []string{"path", "status_class"}),
		httpRequestDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "terminalgw_http_request_duration_seconds",
			Help:    "HTTP request handling duration",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		errorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "terminalgw_errors_total",
			Help: "Total number of errors across every subsystem",
		}),
		errorsByType: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "terminalgw_errors_by_type_total",
			Help: "Total number of errors by subsystem label",
		}, []string{"type"}),

		goroutinesCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "terminalgw_goroutines",
			Help: "Number of goroutines",
		}),
		memoryUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "terminalgw_memory_usage_bytes",
			Help: "Heap memory in use",
		}),
		cpuUsage: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "terminalgw_cpu_usage_percent",
			Help: "System CPU usage percentage",
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
	m.mu.Lock()
	m.active++
	m.mu.Unlock()
}

func (m *Metrics) ConnectionClosed(duration time.Duration) {
	m.connectionsActive.Dec()
	m.connectionDuration.Observe(duration.Seconds())
	m.mu.Lock()
	m.active--
	m.mu.Unlock()
}

func (m *Metrics) ConnectionError() {
	m.connectionsErrors.Inc()
	m.RecordError("connection")
}

func (m *Metrics) SetSessionCounts(total, authenticated int) {
	m.sessionsActive.Set(float64(total))
	m.sessionsAuthenticated.Set(float64(authenticated))
}

func (m *Metrics) SessionsExpired(n int) {
	m.sessionsExpired.Add(float64(n))
}

func (m *Metrics) ProxyPairOpened() {
	m.proxyPairsActive.Inc()
}

func (m *Metrics) ProxyPairEstablished() {
	m.proxyPairsEstablished.Inc()
}

func (m *Metrics) ProxyPairClosed() {
	m.proxyPairsActive.Dec()
}

func (m *Metrics) ProxyBackendError() {
	m.proxyBackendErrors.Inc()
	m.RecordError("proxy")
}

func (m *Metrics) ProxyBytesForwarded(clientToBackend, backendToClient int) {
	if clientToBackend > 0 {
		m.proxyBytesClientToBackend.Add(float64(clientToBackend))
	}
	if backendToClient > 0 {
		m.proxyBytesBackendToClient.Add(float64(backendToClient))
	}
}

func (m *Metrics) RecordHTTPRequest(path, statusClass string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(path, statusClass).Inc()
	m.httpRequestDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordError(errType string) {
	m.errorsTotal.Inc()
	m.errorsByType.WithLabelValues(errType).Inc()
}

func (m *Metrics) UpdateGoroutines(n int) {
	m.goroutinesCount.Set(float64(n))
}

func (m *Metrics) UpdateMemoryUsage(bytes uint64) {
	m.memoryUsage.Set(float64(bytes))
}

func (m *Metrics) UpdateCPUUsage(percent float64) {
	m.cpuUsage.Set(percent)
}

func (m *Metrics) ActiveConnections() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
