//go:build linux

package netpoll

import (
	"net"
	"syscall"
	"testing"
	"time"
)

func TestListenAcceptRoundTrip(t *testing.T) {
	fd, err := Listen("127.0.0.1:0", ListenerOptions{})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer syscall.Close(fd)

	sa, err := syscall.Getsockname(fd)
	if err != nil {
		t.Fatalf("getsockname: %v", err)
	}
	sa4, ok := sa.(*syscall.SockaddrInet4)
	if !ok {
		t.Fatalf("unexpected sockaddr type %T", sa)
	}
	addr := (&net.TCPAddr{IP: net.IP(sa4.Addr[:]), Port: sa4.Port}).String()

	dialDone := make(chan error, 1)
	go func() {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err != nil {
			dialDone <- err
			return
		}
		defer conn.Close()
		_, err = conn.Write([]byte("ping"))
		dialDone <- err
	}()

	p, err := New(8)
	if err != nil {
		t.Fatalf("new poller: %v", err)
	}
	defer p.Close()
	if err := p.AddListener(fd); err != nil {
		t.Fatalf("add listener: %v", err)
	}

	events, err := p.Wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("expected at least one readiness event for the listener")
	}

	cfd, _, err := Accept(fd)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	defer syscall.Close(cfd)

	if err := <-dialDone; err != nil {
		t.Fatalf("dial: %v", err)
	}
}
