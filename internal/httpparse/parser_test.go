package httpparse

import (
	"errors"
	"testing"
)

const sampleGET = "GET /api/session-status?x=1 HTTP/1.1\r\nHost: example.com\r\nConnection: keep-alive\r\n\r\n"

func TestParseCompleteInOneCall(t *testing.T) {
	r := NewRequest(0, 0)
	err := r.Feed([]byte(sampleGET))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Done() {
		t.Fatal("expected done")
	}
	if r.Method != MethodGET {
		t.Fatalf("want GET, got %v", r.Method)
	}
	if string(r.Path()) != "/api/session-status" {
		t.Fatalf("want path, got %q", r.Path())
	}
	if v, ok := r.Header("host"); !ok || string(v) != "example.com" {
		t.Fatalf("case-insensitive header lookup failed: %q %v", v, ok)
	}
}

func TestResumptionLawByteAtATime(t *testing.T) {
	whole := NewRequest(0, 0)
	if err := whole.Feed([]byte(sampleGET)); err != nil {
		t.Fatalf("whole feed: %v", err)
	}

	piecewise := NewRequest(0, 0)
	var err error
	for i := 0; i < len(sampleGET); i++ {
		err = piecewise.Feed([]byte{sampleGET[i]})
		if err != nil && !errors.Is(err, ErrNeedMore) {
			t.Fatalf("unexpected error at byte %d: %v", i, err)
		}
	}
	if !piecewise.Done() {
		t.Fatal("piecewise parse never completed")
	}

	if whole.Method != piecewise.Method {
		t.Fatalf("method mismatch: %v vs %v", whole.Method, piecewise.Method)
	}
	if string(whole.Path()) != string(piecewise.Path()) {
		t.Fatalf("path mismatch: %q vs %q", whole.Path(), piecewise.Path())
	}
	if whole.HeaderCount() != piecewise.HeaderCount() {
		t.Fatalf("header count mismatch: %d vs %d", whole.HeaderCount(), piecewise.HeaderCount())
	}
	wv, _ := whole.Header("Host")
	pv, _ := piecewise.Header("Host")
	if string(wv) != string(pv) {
		t.Fatalf("header value mismatch: %q vs %q", wv, pv)
	}
}

func TestNeedMoreUntilHeadersComplete(t *testing.T) {
	r := NewRequest(0, 0)
	partial := "GET / HTTP/1.1\r\nHost: x\r\n"
	err := r.Feed([]byte(partial))
	if !errors.Is(err, ErrNeedMore) {
		t.Fatalf("want ErrNeedMore, got %v", err)
	}
	if err := r.Feed([]byte("\r\n")); err != nil {
		t.Fatalf("want completion, got %v", err)
	}
}

func TestUnknownMethodIsMalformed(t *testing.T) {
	r := NewRequest(0, 0)
	err := r.Feed([]byte("FROB / HTTP/1.1\r\n\r\n"))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("want ErrMalformed, got %v", err)
	}
}

func TestWebSocketUpgradeDetection(t *testing.T) {
	r := NewRequest(0, 0)
	req := "GET /terminal-proxy HTTP/1.1\r\nHost: x\r\nUpgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	if err := r.Feed([]byte(req)); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if !r.IsWebSocket {
		t.Fatal("expected IsWebSocket true")
	}
}

func TestContentLengthBody(t *testing.T) {
	r := NewRequest(0, 0)
	head := "POST /api/login HTTP/1.1\r\nContent-Length: 13\r\n\r\n"
	if err := r.Feed([]byte(head)); !errors.Is(err, ErrNeedMore) {
		t.Fatalf("want need more (body not arrived), got %v", err)
	}
	if err := r.Feed([]byte(`{"a":"bcdef"}`)); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if string(r.Body()) != `{"a":"bcdef"}` {
		t.Fatalf("got body %q", r.Body())
	}
}

func TestKeepAliveDefaultsByVersion(t *testing.T) {
	r11 := NewRequest(0, 0)
	r11.Feed([]byte("GET / HTTP/1.1\r\n\r\n"))
	if !r11.KeepAlive() {
		t.Fatal("HTTP/1.1 should default to keep-alive")
	}

	r10 := NewRequest(0, 0)
	r10.Feed([]byte("GET / HTTP/1.0\r\n\r\n"))
	if r10.KeepAlive() {
		t.Fatal("HTTP/1.0 should default to close")
	}

	r10ka := NewRequest(0, 0)
	r10ka.Feed([]byte("GET / HTTP/1.0\r\nConnection: keep-alive\r\n\r\n"))
	if !r10ka.KeepAlive() {
		t.Fatal("HTTP/1.0 with explicit keep-alive should stay open")
	}
}

func TestTooManyHeadersIsMalformed(t *testing.T) {
	r := NewRequest(2, 0)
	req := "GET / HTTP/1.1\r\nA: 1\r\nB: 2\r\nC: 3\r\n\r\n"
	err := r.Feed([]byte(req))
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("want ErrMalformed, got %v", err)
	}
}
