// Package connection implements the per-client connection state machine:
// idle -> reading -> writing -> proxying -> closing, with ring-buffer-backed
// non-blocking read/write paths.
package connection

import (
	"errors"
	"fmt"
	"sync/atomic"
	"syscall"
	"time"

	"terminalgw/internal/httpparse"
	"terminalgw/internal/ringbuf"
	"terminalgw/internal/session"
)

// State is the connection's place in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateReading
	StateWriting
	StateProxying
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReading:
		return "reading"
	case StateWriting:
		return "writing"
	case StateProxying:
		return "proxying"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

const bufferSize = 64 * 1024
const readChunk = 8192

var nextConnID uint64

// Reader is the minimal non-blocking-fd surface Connection needs; the
// event loop passes in either the raw epoll fd (Linux) or a net.Conn
// wrapper (portable backend) behind this interface.
type Reader interface {
	Read(p []byte) (int, error)
}

// Writer is the corresponding non-blocking write surface.
type Writer interface {
	Write(p []byte) (int, error)
}

// ReadWriter is what a Connection actually needs from its transport.
type ReadWriter interface {
	Reader
	Writer
}

// Connection wraps one accepted client socket: its ring-buffered I/O,
// parsed request/response state, and WebSocket/proxy/session linkage.
type Connection struct {
	ID     uint64
	Fd     int
	Conn   ReadWriter
	State  State
	Remote string

	Created      time.Time
	LastActivity time.Time

	ReadBuf  *ringbuf.Buffer
	WriteBuf *ringbuf.Buffer

	Request  *httpparse.Request
	Response *httpparse.Response
	// FedTotal is how many bytes have been fed into Request since it was
	// last created/reset; Request.Consumed() indexes into that same
	// cumulative count, so the caller can compute and re-feed any bytes
	// left over after a pipelined request completes.
	FedTotal int

	IsWebSocket     bool
	WSHandshakeDone bool

	Session *session.Session

	IsProxying bool
	ProxyDone  chan struct{}
	ProxyPair  ProxyPair

	closed int32
}

// ProxyPair is the backend-proxy half of a terminal session, satisfied by
// *proxy.Pair. Connection depends only on this narrow interface so
// internal/proxy doesn't need to import internal/connection.
type ProxyPair interface {
	ForwardFromClient(frame []byte) error
	Close()
}

// New creates a connection wrapping rw, which performs non-blocking I/O
// for fd (on Linux, fd is the real kernel descriptor; on the portable
// backend it's a synthetic handle — Connection treats it as opaque).
func New(fd int, rw ReadWriter, remote string) *Connection {
	c := &Connection{}
	c.Init(fd, rw, remote)
	return c
}

// Init (re)initializes c for fd/rw/remote, resetting every mutable field
// to a fresh connection's state. New uses it for a first-time allocation;
// the server's connection pool calls it directly on a recycled Connection
// pulled off pool.Pool[Connection], so a reused struct never carries over
// a previous client's buffers, session, or proxy linkage.
func (c *Connection) Init(fd int, rw ReadWriter, remote string) {
	now := time.Now()
	c.ID = atomic.AddUint64(&nextConnID, 1)
	c.Fd = fd
	c.Conn = rw
	c.State = StateIdle
	c.Remote = remote
	c.Created = now
	c.LastActivity = now
	c.ReadBuf = ringbuf.New(bufferSize)
	c.WriteBuf = ringbuf.New(bufferSize)
	c.Request = httpparse.NewRequest(httpparse.DefaultMaxHeaders, httpparse.DefaultMaxURLLen)
	c.Response = nil
	c.FedTotal = 0
	c.IsWebSocket = false
	c.WSHandshakeDone = false
	c.Session = nil
	c.IsProxying = false
	c.ProxyDone = nil
	c.ProxyPair = nil
	atomic.StoreInt32(&c.closed, 0)
}

// ReadAvailable pulls pending bytes from the socket into the read ring
// buffer, matching the original's "read until EAGAIN or buffer full"
// non-blocking contract. It returns the number of bytes read, or -1 if the
// peer closed, or an error for anything else.
func (c *Connection) ReadAvailable() (int, error) {
	free := c.ReadBuf.FreeSpace()
	if free == 0 {
		return 0, nil
	}

	toRead := readChunk
	if free < toRead {
		toRead = free
	}
	temp := make([]byte, toRead)

	n, err := c.Conn.Read(temp)
	if n > 0 {
		c.ReadBuf.Write(temp[:n])
		c.LastActivity = time.Now()
	}
	if err != nil {
		if isWouldBlock(err) {
			return n, nil
		}
		return -1, err
	}
	if n == 0 {
		return -1, fmt.Errorf("connection: peer closed")
	}
	return n, nil
}

// FlushWrites drains the write ring buffer to the socket, re-buffering
// whatever a short, non-blocking write couldn't accept.
func (c *Connection) FlushWrites() (int, error) {
	available := c.WriteBuf.Available()
	if available == 0 {
		return 0, nil
	}

	toWrite := readChunk
	if available < toWrite {
		toWrite = available
	}
	temp := make([]byte, toWrite)
	actual := c.WriteBuf.Read(temp)

	n, err := c.Conn.Write(temp[:actual])
	if n > 0 {
		c.LastActivity = time.Now()
	}
	if n < actual {
		c.WriteBuf.Write(temp[n:actual])
	}
	if err != nil && !isWouldBlock(err) {
		return n, err
	}
	return n, nil
}

// QueueResponse serializes resp and queues it on the write buffer.
func (c *Connection) QueueResponse(resp *httpparse.Response) {
	c.WriteBuf.Write(resp.Build())
}

// ResetForKeepAlive clears request/response state so the next pipelined
// request on the same connection starts clean.
func (c *Connection) ResetForKeepAlive() {
	c.Request = httpparse.NewRequest(httpparse.DefaultMaxHeaders, httpparse.DefaultMaxURLLen)
	c.Response = nil
	c.FedTotal = 0
}

// Idle reports whether the connection has had no activity for longer than
// timeout, used by the event loop's idle-connection sweep.
func (c *Connection) Idle(timeout time.Duration) bool {
	return time.Since(c.LastActivity) > timeout
}

// Close marks the connection closed; callers are responsible for removing
// it from the event loop and actually closing the transport.
func (c *Connection) Close() {
	atomic.StoreInt32(&c.closed, 1)
	c.State = StateClosing
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// QueueBackendData satisfies proxy.ClientSink: bytes arriving from the
// backend are queued on the same write ring buffer ordinary HTTP
// responses use, so the event loop's existing flush path delivers them.
func (c *Connection) QueueBackendData(p []byte) {
	c.WriteBuf.Write(p)
}

// CloseFromProxy satisfies proxy.ClientSink: the backend side of a pair
// ended, so this connection is torn down the same way any other closed
// connection is.
func (c *Connection) CloseFromProxy() {
	c.Close()
}

// isWouldBlock recognizes both forms of "no data / not ready right now"
// this package sees: syscall.EAGAIN from the raw Linux read/write path,
// and a net.Error deadline timeout from the portable net.Conn path.
func isWouldBlock(err error) bool {
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
		return true
	}
	type timeout interface{ Timeout() bool }
	var te timeout
	if errors.As(err, &te) && te.Timeout() {
		return true
	}
	return false
}
