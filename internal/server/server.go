// Package server wires the gateway's data-structure and protocol packages
// into the single-threaded, epoll-driven event loop the rest of the repo
// was built to feed: accept -> read -> route -> write, cooperatively
// scheduled on one goroutine per the original event_loop.c design, with
// backend proxy I/O and the admin HTTP listener each on their own
// goroutine so neither can stall the client-facing loop.
package server

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"terminalgw/internal/auth"
	"terminalgw/internal/config"
	"terminalgw/internal/connection"
	"terminalgw/internal/eventbus"
	"terminalgw/internal/httpparse"
	"terminalgw/internal/metrics"
	"terminalgw/internal/netpoll"
	"terminalgw/internal/pool"
	"terminalgw/internal/proxy"
	"terminalgw/internal/router"
	"terminalgw/internal/session"
	"terminalgw/internal/staticfiles"
	"terminalgw/internal/wsproto"
)

const (
	maxPollEvents = 1024
	sweepInterval = 5 * time.Second
	dialTimeout   = 5 * time.Second

	// connPoolInitialChunks seeds the connection pool; Pool[T] grows
	// geometrically past this if more connections are ever live at once,
	// which --max-connections keeps from happening in steady state.
	connPoolInitialChunks = 64
)

// Server owns every piece of mutable global state the event loop touches:
// the listener, the poller, the live connection table, and the shared
// subsystems (sessions, static cache, metrics, telemetry, JWT). There is
// exactly one Server per process.
type Server struct {
	cfg *config.Config
	log *zap.Logger

	sessions  *session.Manager
	static    *staticfiles.Cache
	metrics   *metrics.Metrics
	collector *metrics.Collector
	bus       *eventbus.Bus
	jwt       *auth.JWTManager
	admin     *adminServer

	poller     *netpoll.Poller
	listenerFd int

	// connPool owns every Connection struct the server ever hands a client
	// socket; the server is the exclusive owner (nothing outside this
	// package touches it), satisfying the one-pool-per-resource contract
	// internal/session's session pool mirrors on the session side.
	connPool *pool.Pool[connection.Connection]

	mu    sync.Mutex
	conns map[int]*connection.Connection

	stopping bool
}

// New builds a Server from a resolved Config and its shared subsystems.
// It does not start listening; call Run for that.
func New(cfg *config.Config, log *zap.Logger, sessions *session.Manager, static *staticfiles.Cache, m *metrics.Metrics, collector *metrics.Collector, bus *eventbus.Bus, jwt *auth.JWTManager) *Server {
	return &Server{
		cfg:       cfg,
		log:       log,
		sessions:  sessions,
		static:    static,
		metrics:   m,
		collector: collector,
		bus:       bus,
		jwt:       jwt,
		connPool:  pool.New(connPoolInitialChunks, func() *connection.Connection { return &connection.Connection{} }),
		conns:     make(map[int]*connection.Connection),
	}
}

// Run listens on cfg.Host:cfg.Port, starts the admin listener, and blocks
// running the event loop until ctx is cancelled or Stop is called.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	fd, err := netpoll.Listen(addr, netpoll.ListenerOptions{Backlog: 1024})
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listenerFd = fd

	poller, err := netpoll.New(maxPollEvents)
	if err != nil {
		return fmt.Errorf("server: create poller: %w", err)
	}
	s.poller = poller
	if err := registerListener(s.poller, fd); err != nil {
		return fmt.Errorf("server: register listener: %w", err)
	}
	go runAcceptLoop(s)

	s.admin = newAdminServer(s.cfg.MetricsAddr, s.log, s.collector, s)
	go s.admin.Run()

	s.log.Info("gateway listening", zap.String("addr", addr))

	lastSweep := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return nil
		default:
		}

		if s.isStopping() {
			s.shutdown()
			return nil
		}

		events, err := s.poller.Wait()
		if err != nil {
			s.log.Warn("poller wait failed", zap.Error(err))
			continue
		}

		for _, ev := range events {
			if ev.Fd == s.listenerFd {
				s.acceptLoop()
				continue
			}
			s.dispatch(ev)
		}

		if time.Since(lastSweep) >= sweepInterval {
			s.sweep()
			lastSweep = time.Now()
		}
	}
}

// Stop requests the event loop exit on its next iteration.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// acceptLoop drains every pending connection on the listen socket,
// mirroring accept_connections' "accept until EAGAIN" loop. A connection
// accepted while the server is already at --max-connections is shed:
// accepted, then immediately closed, so the kernel backlog keeps
// draining instead of leaving clients hanging on an un-accepted socket.
// Linux only: the portable backend has no edge-triggered listener
// readiness and instead runs runAcceptLoop on its own goroutine (see
// transport_other.go), which applies the same shed behavior.
func (s *Server) acceptLoop() {
	for {
		fd, addr, err := netpoll.Accept(s.listenerFd)
		if err != nil {
			return
		}

		if s.activeCount() >= s.cfg.MaxConnections {
			s.log.Warn("max connections reached, shedding new connection", zap.String("addr", addrString(addr)))
			closeTransport(fd)
			continue
		}

		netpoll.SetConnOptions(fd)
		s.finishAccept(fd, addr)
	}
}

// finishAccept wraps a newly-accepted connection handle in a Connection
// and registers it with the poller; shared by the Linux drain-on-readable
// path and the portable blocking-accept goroutine.
func (s *Server) finishAccept(fd int, addr net.Addr) {
	rw, err := newTransport(fd)
	if err != nil {
		s.log.Warn("failed to wrap accepted connection", zap.Error(err))
		closeTransport(fd)
		return
	}

	s.mu.Lock()
	conn := s.connPool.Acquire()
	s.mu.Unlock()
	conn.Init(fd, rw, addrString(addr))

	if err := registerConn(s.poller, fd, rw); err != nil {
		s.log.Warn("failed to register connection with poller", zap.Error(err))
		closeTransport(fd)
		s.mu.Lock()
		s.connPool.Release(conn)
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.conns[fd] = conn
	s.mu.Unlock()
	s.metrics.ConnectionOpened()
	s.collector.TrackConnectionOpened(connID(conn), conn.Remote)
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// connID renders a Connection's numeric id as the string key the admin
// per-connection tracker indexes on.
func connID(conn *connection.Connection) string {
	return strconv.FormatUint(conn.ID, 10)
}

func (s *Server) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// dispatch handles one readiness event for an already-accepted connection.
func (s *Server) dispatch(ev netpoll.Event) {
	s.mu.Lock()
	conn, ok := s.conns[ev.Fd]
	s.mu.Unlock()
	if !ok {
		return
	}

	if ev.HupOrErr {
		s.closeConnection(conn)
		return
	}

	if ev.Readable {
		n, err := conn.ReadAvailable()
		if err != nil {
			s.closeConnection(conn)
			return
		}
		if n > 0 {
			s.collector.TrackConnectionIO(connID(conn), false, n)
			s.processConnection(conn)
		}
	}

	if ev.Writable {
		n, err := conn.FlushWrites()
		if err != nil {
			s.closeConnection(conn)
			return
		}
		if n > 0 {
			s.collector.TrackConnectionIO(connID(conn), true, n)
		}
	}

	if conn.Closed() {
		s.closeConnection(conn)
	}
}

// processConnection drains newly-read bytes and advances conn's protocol
// state machine: raw byte forwarding once proxying, framed WebSocket
// dispatch for the plain echo accept, and HTTP request parsing/routing
// otherwise.
func (s *Server) processConnection(conn *connection.Connection) {
	switch conn.State {
	case connection.StateProxying:
		s.pumpProxy(conn)
	case connection.StateWriting:
		s.pumpPlainWebSocket(conn)
	default:
		s.pumpHTTP(conn)
	}
}

// pumpProxy forwards every byte currently sitting in the read buffer
// straight to the backend, unparsed: wsproto.ParseFrame unmasks its input
// in place, which would corrupt the still-masked bytes ForwardFromClient
// is contracted to relay, so once a connection is proxying, wsproto never
// touches its traffic again.
func (s *Server) pumpProxy(conn *connection.Connection) {
	if conn.ProxyPair == nil {
		// Backend dial/handshake is still in flight on its own goroutine;
		// leave the bytes buffered for the next readable event rather than
		// drop client traffic that arrived before the pair was ready.
		return
	}
	avail := conn.ReadBuf.Available()
	if avail == 0 {
		return
	}
	data := make([]byte, avail)
	n := conn.ReadBuf.Read(data)
	if n == 0 {
		return
	}
	if err := conn.ProxyPair.ForwardFromClient(data[:n]); err != nil {
		s.closeConnection(conn)
	}
}

// pumpPlainWebSocket terminates WS framing at the edge for connections
// that upgraded to a path other than the terminal proxy: the gateway is
// the endpoint here, not a transparent relay, so full parse/dispatch/build
// applies.
func (s *Server) pumpPlainWebSocket(conn *connection.Connection) {
	for {
		avail := conn.ReadBuf.Available()
		if avail == 0 {
			return
		}
		peek := make([]byte, avail)
		n := conn.ReadBuf.Read(peek)
		peek = peek[:n]

		frame, err := wsproto.ParseFrame(peek)
		if err == wsproto.ErrNeedMore {
			conn.ReadBuf.Write(peek)
			return
		}
		if err != nil {
			s.closeConnection(conn)
			return
		}

		if frame.Size < len(peek) {
			conn.ReadBuf.Write(peek[frame.Size:])
		}

		result := wsproto.Process(frame)
		switch result.Action {
		case wsproto.ActionDeliver:
			conn.WriteBuf.Write(wsproto.BuildFrame(frame.Opcode, frame.Payload))
		case wsproto.ActionReply:
			conn.WriteBuf.Write(result.Out)
		case wsproto.ActionCloseConn:
			if result.Out != nil {
				conn.WriteBuf.Write(result.Out)
			}
			conn.Close()
			return
		case wsproto.ActionIgnore:
		}
	}
}

// pumpHTTP feeds newly-read bytes into the connection's in-flight request
// parse, routes completed requests, and handles pipelined leftovers per
// the resumption law: bytes fed past Consumed() belong to the next
// request and must be re-fed into a freshly reset parser.
func (s *Server) pumpHTTP(conn *connection.Connection) {
	for {
		avail := conn.ReadBuf.Available()
		if avail == 0 {
			return
		}
		chunk := make([]byte, avail)
		n := conn.ReadBuf.Read(chunk)
		chunk = chunk[:n]

		err := conn.Request.Feed(chunk)
		conn.FedTotal += len(chunk)

		if err == httpparse.ErrNeedMore {
			return
		}
		if err != nil {
			conn.QueueResponse(httpparse.JSON(400, `{"error":"Bad Request"}`))
			conn.Close()
			return
		}

		consumed := conn.Request.Consumed()
		leftoverLen := conn.FedTotal - consumed
		var leftover []byte
		if leftoverLen > 0 && leftoverLen <= len(chunk) {
			leftover = append([]byte(nil), chunk[len(chunk)-leftoverLen:]...)
		}

		s.routeRequest(conn)

		if conn.Closed() {
			return
		}
		if !conn.Request.KeepAlive() {
			conn.Close()
			return
		}

		conn.ResetForKeepAlive()
		if len(leftover) > 0 {
			conn.ReadBuf.Write(leftover)
			continue
		}
		return
	}
}

func (s *Server) routeRequest(conn *connection.Connection) {
	sessID, ok := session.IDFromCookieHeader(headerOrEmpty(conn.Request, "Cookie"))
	var sess *session.Session
	if ok {
		sess, _ = s.sessions.Find(sessID)
	}
	if sess == nil {
		sess = s.sessionFromBearer(conn)
	}

	cfg := &router.Config{
		TerminalHost: s.cfg.TerminalHost,
		TerminalPort: s.cfg.TerminalPort,
		PasswordHash: s.cfg.PasswordHash,
		Sessions:     s.sessions,
		Static:       s.static,
	}
	decision := router.Route(cfg, conn.Request, sess)
	conn.Session = decision.Session

	switch {
	case decision.ProxyUpgrade:
		s.beginProxyUpgrade(conn)
	case decision.PlainWSAccept:
		s.beginPlainWSAccept(conn)
	default:
		if decision.Response != nil {
			if decision.MintToken && s.jwt != nil && decision.Session != nil {
				if token, err := s.jwt.Generate(decision.Session.ID); err == nil {
					decision.Response.AddHeader("X-Session-Token", token)
				}
			}
			conn.QueueResponse(decision.Response)
		}
	}
}

func headerOrEmpty(req *httpparse.Request, name string) string {
	if v, ok := req.Header(name); ok {
		return string(v)
	}
	return ""
}

const bearerPrefix = "Bearer "

// sessionFromBearer resolves an Authorization: Bearer token into a
// session, the non-cookie path §2.2 calls for, by extracting the token
// from the already-parsed request header directly rather than going
// through auth.ExtractTokenFromHeader (which expects a net/http.Request,
// a shape this event loop's requests never take).
func (s *Server) sessionFromBearer(conn *connection.Connection) *session.Session {
	if s.jwt == nil {
		return nil
	}
	header := headerOrEmpty(conn.Request, "Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return nil
	}
	sess, err := s.jwt.Verify(strings.TrimPrefix(header, bearerPrefix))
	if err != nil {
		return nil
	}
	return sess
}

// beginProxyUpgrade answers the client handshake directly, then dials the
// backend in its own goroutine so the event-loop thread never blocks on
// backend connect/handshake latency.
func (s *Server) beginProxyUpgrade(conn *connection.Connection) {
	key := headerOrEmpty(conn.Request, "Sec-WebSocket-Key")
	if key == "" {
		conn.QueueResponse(httpparse.JSON(400, `{"error":"Bad Request"}`))
		conn.Close()
		return
	}
	conn.QueueResponse(wsUpgradeResponse(key))
	conn.State = connection.StateProxying

	addr := net.JoinHostPort(s.cfg.TerminalHost, strconv.Itoa(s.cfg.TerminalPort))
	sessionID := ""
	if conn.Session != nil {
		sessionID = conn.Session.ID
	}

	go func() {
		pair, err := proxy.Dial(addr, "/", conn, dialTimeout)
		if err != nil {
			s.log.Warn("backend dial failed", zap.Error(err), zap.String("addr", addr))
			s.metrics.ProxyBackendError()
			conn.Close()
			return
		}
		conn.ProxyPair = pair
		s.metrics.ProxyPairEstablished()
		s.bus.PublishProxyEstablished(sessionID, time.Now())

		pair.Run(func(error) {
			s.metrics.ProxyPairClosed()
			s.bus.PublishProxyClosed(sessionID, time.Now())
		})
	}()
}

func (s *Server) beginPlainWSAccept(conn *connection.Connection) {
	key := headerOrEmpty(conn.Request, "Sec-WebSocket-Key")
	if key == "" {
		conn.QueueResponse(httpparse.JSON(400, `{"error":"Bad Request"}`))
		conn.Close()
		return
	}
	conn.QueueResponse(wsUpgradeResponse(key))
	conn.State = connection.StateWriting
}

func wsUpgradeResponse(clientKey string) *httpparse.Response {
	resp := httpparse.NewResponse(101, "Switching Protocols")
	resp.AddHeader("Upgrade", "websocket")
	resp.AddHeader("Connection", "Upgrade")
	resp.AddHeader("Sec-WebSocket-Accept", wsproto.AcceptKey(clientKey))
	return resp
}

// sweep expires idle sessions and idle connections on its own cadence,
// independent of the poller's wait timeout, mirroring event_loop.c's
// periodic cleanup pass.
func (s *Server) sweep() {
	expired := s.sessions.Sweep()
	if expired > 0 {
		s.metrics.SessionsExpired(expired)
	}
	total, authenticated := s.sessions.Stats()
	s.metrics.SetSessionCounts(total, authenticated)

	s.mu.Lock()
	idle := make([]*connection.Connection, 0)
	for _, conn := range s.conns {
		if conn.State != connection.StateProxying && conn.Idle(s.cfg.IdleTimeout) {
			idle = append(idle, conn)
		}
	}
	s.mu.Unlock()

	for _, conn := range idle {
		s.closeConnection(conn)
	}
}

func (s *Server) closeConnection(conn *connection.Connection) {
	s.mu.Lock()
	_, ok := s.conns[conn.Fd]
	delete(s.conns, conn.Fd)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.poller.Remove(conn.Fd)
	closeTransport(conn.Fd)
	if conn.ProxyPair != nil {
		// Close blocks until the pair's backend->client forwarding
		// goroutine has exited, so it is safe to recycle conn's storage
		// the moment this call returns.
		conn.ProxyPair.Close()
	}
	conn.Close()
	s.metrics.ConnectionClosed(time.Since(conn.Created))
	s.collector.TrackConnectionClosed(connID(conn))

	s.mu.Lock()
	s.connPool.Release(conn)
	s.mu.Unlock()
}

// shutdown tears everything down: stop accepting, close every live
// connection, stop the telemetry bus, and stop the admin listener.
func (s *Server) shutdown() {
	s.log.Info("gateway shutting down")

	s.mu.Lock()
	conns := make([]*connection.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		s.closeConnection(c)
	}

	if s.poller != nil {
		s.poller.Close()
	}
	closeTransport(s.listenerFd)

	if s.bus != nil {
		s.bus.Close()
	}
	if s.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.admin.Shutdown(ctx)
	}
}

// ActiveConnections reports the live connection count for the admin
// diagnostics endpoint.
func (s *Server) ActiveConnections() int {
	return s.activeCount()
}
