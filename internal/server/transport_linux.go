//go:build linux

package server

import (
	"syscall"

	"terminalgw/internal/connection"
	"terminalgw/internal/netpoll"
)

// rawFD adapts a bare non-blocking socket descriptor to
// connection.ReadWriter via direct read(2)/write(2), mirroring the
// original event loop's raw syscalls on the fd epoll hands back.
type rawFD int

func (fd rawFD) Read(p []byte) (int, error) {
	return syscall.Read(int(fd), p)
}

func (fd rawFD) Write(p []byte) (int, error) {
	return syscall.Write(int(fd), p)
}

// newTransport wraps fd for use as a Connection's ReadWriter.
func newTransport(fd int) (connection.ReadWriter, error) {
	return rawFD(fd), nil
}

// closeTransport closes the underlying kernel descriptor.
func closeTransport(fd int) error {
	return syscall.Close(fd)
}

// registerListener adds the listening fd to the poller so the event loop
// learns about pending accepts via ordinary readiness events.
func registerListener(poller *netpoll.Poller, fd int) error {
	return poller.AddListener(fd)
}

// registerConn adds an accepted connection's fd to the poller.
func registerConn(poller *netpoll.Poller, fd int, rw connection.ReadWriter) error {
	return poller.Add(fd)
}

// runAcceptLoop is a no-op on Linux: the event loop itself drains pending
// accepts whenever the listener fd reports readable (Server.acceptLoop).
func runAcceptLoop(s *Server) {}
