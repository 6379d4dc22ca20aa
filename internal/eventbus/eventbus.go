// Package eventbus publishes best-effort lifecycle telemetry (session
// created/destroyed, proxy pair established/closed) to NATS, the way the
// teacher's pkg/nats client subscribes to market-data subjects — except
// here the gateway is solely a publisher, and every publish happens off
// a buffered channel drained by a background goroutine so a slow or
// disconnected broker can never stall the event loop.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"terminalgw/internal/metrics"
)

const (
	SubjectSessionCreated    = "gateway.session.created"
	SubjectSessionDestroyed  = "gateway.session.destroyed"
	SubjectProxyEstablished  = "gateway.proxy.established"
	SubjectProxyClosed       = "gateway.proxy.closed"

	queueDepth = 256
)

// Config mirrors the teacher's NATS connection tuning knobs.
type Config struct {
	URL             string
	MaxReconnects   int
	ReconnectWait   time.Duration
	ReconnectJitter time.Duration
	MaxPingsOut     int
	PingInterval    time.Duration
}

type outboundEvent struct {
	subject string
	payload any
}

// Bus publishes lifecycle events. A Bus built with an empty URL is a
// no-op sink: Publish* calls succeed immediately and discard the event,
// so callers never need to branch on whether telemetry is enabled.
type Bus struct {
	conn    *nats.Conn
	log     *zap.Logger
	metrics *metrics.Metrics

	queue chan outboundEvent
	done  chan struct{}
}

// New connects to cfg.URL and starts the draining goroutine. An empty
// URL disables the bus entirely (no dial attempted).
func New(cfg Config, log *zap.Logger, m *metrics.Metrics) (*Bus, error) {
	b := &Bus{log: log, metrics: m, queue: make(chan outboundEvent, queueDepth), done: make(chan struct{})}

	if cfg.URL == "" {
		close(b.done)
		return b, nil
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.ReconnectJitter(cfg.ReconnectJitter, cfg.ReconnectJitter),
		nats.MaxPingsOutstanding(cfg.MaxPingsOut),
		nats.PingInterval(cfg.PingInterval),
		nats.ConnectHandler(b.onConnect),
		nats.DisconnectErrHandler(b.onDisconnect),
		nats.ReconnectHandler(b.onReconnect),
		nats.ErrorHandler(b.onError),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect: %w", err)
	}
	b.conn = conn

	go b.drain()
	return b, nil
}

func (b *Bus) onConnect(conn *nats.Conn) {
	b.log.Info("eventbus connected", zap.String("url", conn.ConnectedUrl()))
}

func (b *Bus) onDisconnect(conn *nats.Conn, err error) {
	if err != nil {
		b.log.Warn("eventbus disconnected", zap.Error(err))
		b.metrics.RecordError("eventbus_disconnect")
	}
}

func (b *Bus) onReconnect(conn *nats.Conn) {
	b.log.Info("eventbus reconnected", zap.String("url", conn.ConnectedUrl()))
}

func (b *Bus) onError(conn *nats.Conn, sub *nats.Subscription, err error) {
	b.log.Warn("eventbus error", zap.Error(err))
	b.metrics.RecordError("eventbus_error")
}

// drain is the sole goroutine that ever touches b.conn for writes,
// keeping NATS I/O off the event-loop and caller goroutines entirely.
func (b *Bus) drain() {
	defer close(b.done)
	for ev := range b.queue {
		data, err := json.Marshal(ev.payload)
		if err != nil {
			b.log.Warn("eventbus marshal failed", zap.String("subject", ev.subject), zap.Error(err))
			continue
		}
		if err := b.conn.Publish(ev.subject, data); err != nil {
			b.log.Warn("eventbus publish failed", zap.String("subject", ev.subject), zap.Error(err))
			b.metrics.RecordError("eventbus_publish")
		}
	}
}

// publish enqueues ev without blocking; a full queue drops the event
// rather than stall the caller, consistent with "best-effort telemetry".
func (b *Bus) publish(subject string, payload any) {
	if b.conn == nil {
		return
	}
	select {
	case b.queue <- outboundEvent{subject: subject, payload: payload}:
	default:
		b.log.Warn("eventbus queue full, dropping event", zap.String("subject", subject))
	}
}

type sessionEvent struct {
	SessionID string    `json:"sessionId"`
	At        time.Time `json:"at"`
}

// PublishSessionCreated announces a new session.
func (b *Bus) PublishSessionCreated(sessionID string, at time.Time) {
	b.publish(SubjectSessionCreated, sessionEvent{SessionID: sessionID, At: at})
}

// PublishSessionDestroyed announces a session's destruction or expiry.
func (b *Bus) PublishSessionDestroyed(sessionID string, at time.Time) {
	b.publish(SubjectSessionDestroyed, sessionEvent{SessionID: sessionID, At: at})
}

// PublishProxyEstablished announces a backend WebSocket proxy pair
// completing its handshake.
func (b *Bus) PublishProxyEstablished(sessionID string, at time.Time) {
	b.publish(SubjectProxyEstablished, sessionEvent{SessionID: sessionID, At: at})
}

// PublishProxyClosed announces a proxy pair tearing down.
func (b *Bus) PublishProxyClosed(sessionID string, at time.Time) {
	b.publish(SubjectProxyClosed, sessionEvent{SessionID: sessionID, At: at})
}

// Close drains any in-flight publishes and disconnects.
func (b *Bus) Close() error {
	close(b.queue)
	<-b.done
	if b.conn != nil {
		b.conn.Close()
	}
	return nil
}

// IsConnected reports whether the bus has a live NATS connection.
func (b *Bus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}
