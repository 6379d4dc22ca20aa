// Package proxy implements the gateway's backend-facing half of a
// terminal WebSocket proxy: dialing the backend, performing its own
// WebSocket handshake as a client, and forwarding frames in both
// directions once both handshakes are complete.
//
// Unlike the client-facing accept/read/write path (driven by the
// hand-rolled internal/netpoll epoll loop), the backend side is driven by
// Go's native net.Conn and a pair of goroutines per pair — the runtime
// netpoller already gives net.Conn non-blocking I/O, so there's nothing
// for a second hand-rolled epoll registration to add here.
package proxy

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// HandshakeState is where a ProxyPair is in its backend-connection
// lifecycle.
type HandshakeState int32

const (
	StateConnecting HandshakeState = iota
	StateHandshaking
	StateEstablished
	StateClosing
)

// ClientSink is how the proxy pair delivers backend->client bytes back
// into the client connection's write path; internal/connection's
// Connection satisfies this via its WriteBuf.
type ClientSink interface {
	QueueBackendData(p []byte)
	CloseFromProxy()
}

// Pair owns one client<->backend WebSocket proxy relationship. Backend and
// client die together: closing either side tears down the whole pair.
type Pair struct {
	backend net.Conn
	client  ClientSink

	state int32 // HandshakeState, accessed atomically

	done chan struct{}
	// backendDone closes when forwardBackendToClient has returned for
	// good, so Close can block until nothing will touch client again —
	// required before the caller recycles whatever Connection backs
	// client through a pool.
	backendDone chan struct{}
	closeErr    error
	once        sync.Once

	bytesClientToBackend int64
	bytesBackendToClient int64
}

// Dial connects to a backend terminal service at addr (host:port) and
// performs the client-side WebSocket handshake against path, returning a
// Pair once the 101 response has arrived. It blocks for the duration of
// the dial and handshake; callers run it in its own goroutine so the event
// loop thread is never blocked on backend I/O.
func Dial(addr, path string, client ClientSink, dialTimeout time.Duration) (*Pair, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("proxy: dial %s: %w", addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	p := &Pair{
		backend:     conn,
		client:      client,
		done:        make(chan struct{}),
		backendDone: make(chan struct{}),
	}
	atomic.StoreInt32(&p.state, int32(StateConnecting))

	if err := p.handshake(addr, path, dialTimeout); err != nil {
		conn.Close()
		return nil, err
	}

	atomic.StoreInt32(&p.state, int32(StateEstablished))
	return p, nil
}

func (p *Pair) handshake(addr, path string, timeout time.Duration) error {
	atomic.StoreInt32(&p.state, int32(StateHandshaking))

	keyBytes := make([]byte, 16)
	if _, err := rand.Read(keyBytes); err != nil {
		return fmt.Errorf("proxy: generate handshake key: %w", err)
	}
	key := base64.StdEncoding.EncodeToString(keyBytes)

	req := fmt.Sprintf(
		"GET %s HTTP/1.1\r\n"+
			"Host: %s\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Key: %s\r\n"+
			"Sec-WebSocket-Version: 13\r\n"+
			"\r\n",
		path, addr, key)

	_ = p.backend.SetDeadline(time.Now().Add(timeout))
	if _, err := p.backend.Write([]byte(req)); err != nil {
		return fmt.Errorf("proxy: write handshake request: %w", err)
	}

	status, err := readUntilHeadersEnd(p.backend)
	if err != nil {
		return fmt.Errorf("proxy: read handshake response: %w", err)
	}
	_ = p.backend.SetDeadline(time.Time{})

	if !strings.HasPrefix(status, "HTTP/1.1 101") {
		return fmt.Errorf("proxy: backend did not switch protocols: %q", firstLine(status))
	}
	return nil
}

// readUntilHeadersEnd reads byte-by-byte until it sees "\r\n\r\n",
// mirroring parse_backend_handshake's header-block scan but phrased
// against a blocking net.Conn instead of a ring buffer peek, since this
// runs in its own dial goroutine rather than the client event loop.
func readUntilHeadersEnd(conn net.Conn) (string, error) {
	var buf []byte
	one := make([]byte, 1)
	for {
		n, err := conn.Read(one)
		if n > 0 {
			buf = append(buf, one[0])
			if len(buf) >= 4 && string(buf[len(buf)-4:]) == "\r\n\r\n" {
				return string(buf), nil
			}
		}
		if err != nil {
			return string(buf), err
		}
		if len(buf) > 8192 {
			return string(buf), fmt.Errorf("proxy: handshake response too large")
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\r'); i >= 0 {
		return s[:i]
	}
	return s
}

// Run starts the backend-to-client forwarding goroutine and blocks until
// either direction closes, then tears down the pair. Client-to-backend
// bytes are not forwarded by a goroutine of Run; the caller writes them
// with ForwardFromClient. onClose, if non-nil, is
// called exactly once with the error (if any) that ended the pair.
func (p *Pair) Run(onClose func(error)) {
	go p.forwardBackendToClient()
	<-p.done
	if onClose != nil {
		onClose(p.closeErr)
	}
}

// ForwardFromClient writes raw client bytes (still-masked frames, not
// parsed or split on frame boundaries) straight through to the backend — the original's "frames from client
// are masked, forward as-is" contract, since RFC 6455 doesn't require a
// proxy to unmask traffic it isn't terminating.
func (p *Pair) ForwardFromClient(frame []byte) error {
	if atomic.LoadInt32(&p.state) != int32(StateEstablished) {
		return fmt.Errorf("proxy: pair not established")
	}
	n, err := p.backend.Write(frame)
	atomic.AddInt64(&p.bytesClientToBackend, int64(n))
	if err != nil {
		p.closeOnce(err)
		return err
	}
	return nil
}

func (p *Pair) forwardBackendToClient() {
	defer close(p.backendDone)
	buf := make([]byte, 32*1024)
	for {
		n, err := p.backend.Read(buf)
		if n > 0 {
			atomic.AddInt64(&p.bytesBackendToClient, int64(n))
			p.client.QueueBackendData(append([]byte(nil), buf[:n]...))
		}
		if err != nil {
			p.closeOnce(err)
			return
		}
	}
}

// Stats returns cumulative bytes forwarded in each direction.
func (p *Pair) Stats() (clientToBackend, backendToClient int64) {
	return atomic.LoadInt64(&p.bytesClientToBackend), atomic.LoadInt64(&p.bytesBackendToClient)
}

func (p *Pair) closeOnce(err error) {
	p.once.Do(func() {
		atomic.StoreInt32(&p.state, int32(StateClosing))
		p.closeErr = err
		p.backend.Close()
		p.client.CloseFromProxy()
		close(p.done)
	})
}

// Close tears down the pair from the client side (e.g. the client
// connection closed first) and blocks until forwardBackendToClient has
// fully exited, so the caller can safely recycle client's backing
// Connection (e.g. release it to a pool) the instant Close returns.
func (p *Pair) Close() {
	p.closeOnce(nil)
	<-p.backendDone
}

// State reports the pair's current handshake state.
func (p *Pair) State() HandshakeState {
	return HandshakeState(atomic.LoadInt32(&p.state))
}
