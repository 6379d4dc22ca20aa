//go:build !linux

package netpoll

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
)

// ListenerOptions controls the socket options applied to the gateway's
// client-facing listener. ReusePort and FastOpen are accepted for API
// parity with the Linux backend but have no portable equivalent here and
// are silently ignored.
type ListenerOptions struct {
	ReusePort bool
	FastOpen  bool
	Backlog   int
}

// registry maps the synthetic integer "fd" handles this package hands out
// on non-Linux builds back to the real net.Listener/net.Conn values
// backing them, since portable Go doesn't expose a raw descriptor
// uniformly across platforms the way Linux does.
var (
	registryMu  sync.Mutex
	nextHandle  int64
	listeners   = map[int]net.Listener{}
	connections = map[int]net.Conn{}
)

func allocHandle() int {
	return int(atomic.AddInt64(&nextHandle, 1))
}

// Listen creates a TCP listener and returns a synthetic handle for it.
// Use Accept with that handle to accept connections, and LookupConn to
// recover the net.Conn behind a connection handle for actual I/O.
func Listen(addr string, opts ListenerOptions) (int, error) {
	backlog := opts.Backlog // accepted for parity; net.Listen has no backlog knob portably
	_ = backlog

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("netpoll: listen %q: %w", addr, err)
	}

	h := allocHandle()
	registryMu.Lock()
	listeners[h] = l
	registryMu.Unlock()
	return h, nil
}

// Accept accepts one pending connection on a listener handle, returning a
// new connection handle and the remote address. It blocks, matching
// net.Listener.Accept's native behavior; on the portable backend
// internal/server calls it from its runAcceptLoop goroutine rather than
// polling readiness on the
// listener the way the Linux epoll backend does.
func Accept(listenerHandle int) (int, net.Addr, error) {
	registryMu.Lock()
	l, ok := listeners[listenerHandle]
	registryMu.Unlock()
	if !ok {
		return 0, nil, fmt.Errorf("netpoll: unknown listener handle %d", listenerHandle)
	}

	conn, err := l.Accept()
	if err != nil {
		return 0, nil, err
	}

	h := allocHandle()
	registryMu.Lock()
	connections[h] = conn
	registryMu.Unlock()
	return h, conn.RemoteAddr(), nil
}

// LookupConn recovers the net.Conn behind a connection handle returned by
// Accept, for use by the connection/proxy layers' Read/Write calls.
func LookupConn(handle int) (net.Conn, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	c, ok := connections[handle]
	return c, ok
}

// CloseHandle closes and forgets a connection or listener handle.
func CloseHandle(handle int) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if c, ok := connections[handle]; ok {
		delete(connections, handle)
		return c.Close()
	}
	if l, ok := listeners[handle]; ok {
		delete(listeners, handle)
		return l.Close()
	}
	return nil
}

// SetConnOptions applies TCP_NODELAY to an accepted connection where the
// underlying type supports it. Buffer sizing is left to the OS default on
// this backend since there's no portable raw-fd setsockopt path.
func SetConnOptions(handle int) {
	registryMu.Lock()
	c, ok := connections[handle]
	registryMu.Unlock()
	if !ok {
		return
	}
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}
