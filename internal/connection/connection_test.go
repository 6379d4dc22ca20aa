package connection

import (
	"io"
	"syscall"
	"testing"
)

type fakeConn struct {
	readData  []byte
	readErr   error
	writeSink []byte
	writeErr  error
	maxWrite  int
}

func (f *fakeConn) Read(p []byte) (int, error) {
	if len(f.readData) == 0 {
		if f.readErr != nil {
			return 0, f.readErr
		}
		return 0, syscall.EAGAIN
	}
	n := copy(p, f.readData)
	f.readData = f.readData[n:]
	return n, nil
}

func (f *fakeConn) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	n := len(p)
	if f.maxWrite > 0 && n > f.maxWrite {
		n = f.maxWrite
	}
	f.writeSink = append(f.writeSink, p[:n]...)
	return n, nil
}

func TestReadAvailableFillsRingBuffer(t *testing.T) {
	fc := &fakeConn{readData: []byte("GET / HTTP/1.1\r\n\r\n")}
	c := New(1, fc, "127.0.0.1:1234")

	n, err := c.ReadAvailable()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len("GET / HTTP/1.1\r\n\r\n") {
		t.Fatalf("got %d bytes", n)
	}
	if c.ReadBuf.Available() != n {
		t.Fatalf("ring buffer has %d, want %d", c.ReadBuf.Available(), n)
	}
}

func TestReadAvailableWouldBlockIsNotAnError(t *testing.T) {
	fc := &fakeConn{}
	c := New(1, fc, "")
	n, err := c.ReadAvailable()
	if err != nil || n != 0 {
		t.Fatalf("want (0, nil), got (%d, %v)", n, err)
	}
}

func TestReadAvailablePeerClosedReturnsNegativeOne(t *testing.T) {
	fc := &fakeConn{readErr: io.EOF}
	c := New(1, fc, "")
	n, err := c.ReadAvailable()
	if n != -1 || err == nil {
		t.Fatalf("want (-1, err), got (%d, %v)", n, err)
	}
}

func TestFlushWritesRebuffersShortWrite(t *testing.T) {
	fc := &fakeConn{maxWrite: 4}
	c := New(1, fc, "")
	c.WriteBuf.Write([]byte("hello world"))

	n, err := c.FlushWrites()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 4 {
		t.Fatalf("want 4 written this call, got %d", n)
	}
	if c.WriteBuf.Available() != len("hello world")-4 {
		t.Fatalf("remaining buffered: got %d", c.WriteBuf.Available())
	}
}

func TestResetForKeepAliveClearsRequest(t *testing.T) {
	c := New(1, &fakeConn{}, "")
	c.Request.Feed([]byte("GET / HTTP/1.1\r\n\r\n"))
	if !c.Request.Done() {
		t.Fatal("expected request parse to complete")
	}
	c.ResetForKeepAlive()
	if c.Request.Done() {
		t.Fatal("expected fresh request parser after reset")
	}
}

func TestCloseMarksClosed(t *testing.T) {
	c := New(1, &fakeConn{}, "")
	if c.Closed() {
		t.Fatal("new connection should not be closed")
	}
	c.Close()
	if !c.Closed() || c.State != StateClosing {
		t.Fatal("expected closed state after Close")
	}
}

func TestInitResetsMutableStateForReuse(t *testing.T) {
	c := New(1, &fakeConn{}, "127.0.0.1:1111")
	c.WriteBuf.Write([]byte("leftover"))
	c.IsWebSocket = true
	c.Close()
	firstID := c.ID

	c.Init(2, &fakeConn{}, "127.0.0.1:2222")
	if c.ID == firstID {
		t.Fatal("expected Init to assign a fresh connection id")
	}
	if c.Fd != 2 || c.Remote != "127.0.0.1:2222" {
		t.Fatalf("got fd=%d remote=%q after Init", c.Fd, c.Remote)
	}
	if c.Closed() || c.State != StateIdle {
		t.Fatal("expected a reused connection to start idle, not closed")
	}
	if c.IsWebSocket {
		t.Fatal("expected IsWebSocket reset on reuse")
	}
	if c.WriteBuf.Available() != 0 {
		t.Fatal("expected a fresh write buffer on reuse")
	}
}
