package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"terminalgw/internal/metrics"
)

// adminWSUpgrader upgrades /admin/ws requests; CheckOrigin is permissive
// since this listener binds to --metrics-addr, an operator-facing port
// that's expected to sit behind a private network or reverse proxy, same
// posture as the teacher's own diagnostic websocket.
var adminWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const adminWSPushInterval = 2 * time.Second

// connectionCounter is the narrow view of *Server the admin listener
// needs, kept separate so admin.go doesn't need the full event-loop type.
type connectionCounter interface {
	ActiveConnections() int
}

// adminServer exposes health/metrics/diagnostics on its own listener,
// entirely separate from the event-loop thread, mirroring the teacher's
// split between the raw transport server and its /health, /metrics mux.
type adminServer struct {
	httpServer *http.Server
	log        *zap.Logger
	collector  *metrics.Collector
	conns      connectionCounter
	startTime  time.Time
}

func newAdminServer(addr string, log *zap.Logger, collector *metrics.Collector, conns connectionCounter) *adminServer {
	a := &adminServer{log: log, collector: collector, conns: conns, startTime: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/admin/ws", a.handleAdminWS)

	a.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return a
}

// Run serves the admin listener until Shutdown is called; ListenAndServe's
// terminal http.ErrServerClosed is swallowed as expected.
func (a *adminServer) Run() {
	if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.log.Warn("admin listener stopped", zap.Error(err))
	}
}

func (a *adminServer) Shutdown(ctx context.Context) {
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.log.Warn("admin listener shutdown error", zap.Error(err))
	}
}

func (a *adminServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":            "ok",
		"uptimeSeconds":     time.Since(a.startTime).Seconds(),
		"activeConnections": a.conns.ActiveConnections(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

// handleAdminWS upgrades to a WebSocket that pushes the Collector's richer
// in-memory diagnostic snapshot (connection-level detail Prometheus's flat
// counters don't carry) on a fixed interval, for an operator watching one
// instance live rather than polling /metrics.
func (a *adminServer) handleAdminWS(w http.ResponseWriter, r *http.Request) {
	conn, err := adminWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Warn("admin websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(adminWSPushInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(a.collector.Snapshot()); err != nil {
			return
		}
	}
}
