//go:build linux

package netpoll

import (
	"fmt"
	"net"
	"syscall"
)

// ListenerOptions controls the socket options applied to the gateway's
// client-facing listener.
type ListenerOptions struct {
	ReusePort bool
	FastOpen  bool
	Backlog   int
}

// sockoptReusePort is SO_REUSEPORT; sockoptTCPFastOpen is TCP_FASTOPEN.
// Neither constant is exported by the syscall package on every Linux
// build, so they're given by value here as the teacher's netpoll.go
// already does.
const (
	sockoptReusePort   = 15
	sockoptTCPFastOpen = 23
)

// Listen creates a non-blocking TCP listener fd with SO_REUSEADDR and,
// optionally, SO_REUSEPORT/TCP_FASTOPEN set before bind — mirroring the
// manual socket()/bind()/listen() sequence the teacher uses for maximum
// control over accept-loop behavior under high connection churn. The
// returned fd is registered with a Poller via AddListener and accepted
// from directly with Accept; it is never wrapped in a net.Listener so
// that the event loop retains exclusive, non-duplicated ownership of it.
func Listen(addr string, opts ListenerOptions) (int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("netpoll: resolve %q: %w", addr, err)
	}

	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	if err != nil {
		return 0, fmt.Errorf("netpoll: socket: %w", err)
	}

	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	if opts.ReusePort {
		_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, sockoptReusePort, 1)
	}
	if opts.FastOpen {
		_ = syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, sockoptTCPFastOpen, 5)
	}
	if err := syscall.SetNonblock(fd, true); err != nil {
		syscall.Close(fd)
		return 0, fmt.Errorf("netpoll: set nonblock: %w", err)
	}

	sa := &syscall.SockaddrInet4{Port: tcpAddr.Port}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := syscall.Bind(fd, sa); err != nil {
		syscall.Close(fd)
		return 0, fmt.Errorf("netpoll: bind: %w", err)
	}

	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = 1024
	}
	if err := syscall.Listen(fd, backlog); err != nil {
		syscall.Close(fd)
		return 0, fmt.Errorf("netpoll: listen: %w", err)
	}

	return fd, nil
}

// Accept accepts one pending connection on a listener fd previously
// created by Listen, returning a non-blocking client fd and its remote
// address. It returns syscall.EAGAIN when no connection is pending,
// which the caller should treat as "try again after the next Wait".
func Accept(listenerFd int) (int, net.Addr, error) {
	nfd, sa, err := syscall.Accept4(listenerFd, syscall.SOCK_NONBLOCK|syscall.SOCK_CLOEXEC)
	if err != nil {
		return 0, nil, err
	}

	var addr net.Addr
	if sa4, ok := sa.(*syscall.SockaddrInet4); ok {
		addr = &net.TCPAddr{IP: append([]byte(nil), sa4.Addr[:]...), Port: sa4.Port}
	}
	return nfd, addr, nil
}

// SetConnOptions applies TCP_NODELAY and generous buffer sizes to an
// accepted client or backend connection.
func SetConnOptions(fd int) {
	_ = syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_RCVBUF, 262144)
	_ = syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_SNDBUF, 262144)
}
