package metrics

import (
	"runtime"
	"sync"
	"time"
)

// Collector periodically samples system/runtime stats into a Metrics
// registry and keeps a richer in-memory snapshot for the admin JSON
// endpoints, which want more detail than Prometheus's flat counters give.
type Collector struct {
	metrics           *Metrics
	systemMetrics     *SystemMetrics
	runtimeMetrics    *RuntimeMetricsReader
	connectionTracker *ConnectionTracker

	mu             sync.RWMutex
	startTime      time.Time
	lastUpdateTime time.Time
	updateInterval time.Duration
}

// NewCollector builds a collector that feeds the given Metrics registry.
func NewCollector(m *Metrics) *Collector {
	return &Collector{
		metrics:           m,
		systemMetrics:     NewSystemMetrics(),
		runtimeMetrics:    NewRuntimeMetricsReader(),
		connectionTracker: NewConnectionTracker(),
		startTime:         time.Now(),
		lastUpdateTime:    time.Now(),
		updateInterval:    5 * time.Second,
	}
}

// StartCollection begins periodic sampling until the returned stop
// function is called.
func (c *Collector) StartCollection() (stop func()) {
	ticker := time.NewTicker(c.updateInterval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				c.updateAllMetrics()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}

func (c *Collector) updateAllMetrics() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.systemMetrics.Update()
	c.runtimeMetrics.Update()

	c.metrics.UpdateMemoryUsage(uint64(c.systemMetrics.GetMemoryMB() * 1024 * 1024))
	c.metrics.UpdateCPUUsage(c.systemMetrics.GetCPUPercent())
	c.metrics.UpdateGoroutines(runtime.NumGoroutine())

	c.lastUpdateTime = time.Now()
}

// TrackConnectionOpened records a new connection by id for the admin
// per-connection breakdown (separate from the aggregate Prometheus gauge).
func (c *Collector) TrackConnectionOpened(id, remoteAddr string) {
	c.connectionTracker.AddConnection(id, remoteAddr)
}

// TrackConnectionClosed removes a tracked connection.
func (c *Collector) TrackConnectionClosed(id string) {
	c.connectionTracker.RemoveConnection(id)
}

// TrackConnectionIO updates per-connection byte/message counters.
func (c *Collector) TrackConnectionIO(id string, sent bool, bytes int) {
	c.connectionTracker.UpdateConnectionStats(id, sent, uint64(bytes))
}

// Snapshot returns a detailed, JSON-friendly view for the admin endpoint.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"timestamp":      time.Now().Unix(),
		"uptime_seconds": time.Since(c.startTime).Seconds(),
		"last_update":    c.lastUpdateTime.Unix(),
		"connections":    c.connectionTracker.GetConnectionStats(),
		"system":         c.systemMetrics.GetSystemInfo(),
		"runtime":        c.runtimeMetrics.GetAllStats(),
	}
}

// SimpleSnapshot returns a minimal summary suitable for a lightweight
// status widget.
func (c *Collector) SimpleSnapshot() map[string]interface{} {
	return map[string]interface{}{
		"active_connections": c.connectionTracker.GetActiveCount(),
		"memory_mb":          c.systemMetrics.GetMemoryMB(),
		"cpu_percent":        c.systemMetrics.GetCPUPercent(),
		"goroutines":         runtime.NumGoroutine(),
	}
}
