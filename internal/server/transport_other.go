//go:build !linux

package server

import (
	"fmt"
	"net"

	"go.uber.org/zap"

	"terminalgw/internal/connection"
	"terminalgw/internal/netpoll"
)

// newTransport resolves the synthetic handle netpoll.Accept returned
// back to the net.Conn it stands for.
func newTransport(fd int) (connection.ReadWriter, error) {
	conn, ok := netpoll.LookupConn(fd)
	if !ok {
		return nil, fmt.Errorf("server: no connection registered for handle %d", fd)
	}
	return conn, nil
}

// closeTransport closes the net.Conn behind the synthetic handle.
func closeTransport(fd int) error {
	return netpoll.CloseHandle(fd)
}

// registerListener is a no-op here: the portable poller has no
// edge-triggered readiness for listen sockets (AddListener is
// unsupported), so accepts are instead driven by runAcceptLoop's own
// blocking goroutine.
func registerListener(poller *netpoll.Poller, fd int) error {
	return nil
}

// registerConn hands the accepted net.Conn to the poller's per-connection
// watcher goroutine.
func registerConn(poller *netpoll.Poller, fd int, rw connection.ReadWriter) error {
	conn, ok := rw.(net.Conn)
	if !ok {
		return fmt.Errorf("server: handle %d has no underlying net.Conn to watch", fd)
	}
	poller.AddConn(fd, conn)
	return nil
}

// runAcceptLoop blocks accepting connections one at a time, since the
// portable listener has no readiness notification of its own, handing
// each off to finishAccept until Accept fails (the listener was closed
// during shutdown). A connection accepted while already at
// --max-connections is closed immediately instead of being handed to
// finishAccept, the same accept-and-shed back-pressure Server.acceptLoop
// applies on Linux, rather than leaving it to pile up in the kernel's
// listen backlog.
func runAcceptLoop(s *Server) {
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
