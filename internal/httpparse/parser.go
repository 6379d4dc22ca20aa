// Package httpparse implements a resumable HTTP/1.1 request-line-and-header
// parser. A Request accumulates bytes across calls to Feed and returns
// ErrNeedMore until the full request head (and, if Content-Length is
// present, body) has arrived — feeding one byte at a time or the whole
// request in one call reaches the same final state.
//
// Header and URL accessors slice into the parser's accumulated buffer by
// offset rather than by pointer, so they stay valid even though the
// buffer itself may be reallocated as more data is fed in.
package httpparse

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
)

// ErrNeedMore is returned by Feed when the request is incomplete and more
// bytes must be fed in before progress can continue.
var ErrNeedMore = errors.New("httpparse: need more data")

// ErrMalformed is returned for any request that cannot be a valid HTTP/1.1
// request line/header block (unknown method, missing colon, too many
// headers, oversized URL).
var ErrMalformed = errors.New("httpparse: malformed request")

// Method enumerates the methods the parser recognizes; anything else is a
// parse error rather than silently passed through.
type Method int

const (
	MethodUnknown Method = iota
	MethodGET
	MethodPOST
	MethodPUT
	MethodDELETE
	MethodHEAD
	MethodOPTIONS
	MethodCONNECT
)

func (m Method) String() string {
	switch m {
	case MethodGET:
		return "GET"
	case MethodPOST:
		return "POST"
	case MethodPUT:
		return "PUT"
	case MethodDELETE:
		return "DELETE"
	case MethodHEAD:
		return "HEAD"
	case MethodOPTIONS:
		return "OPTIONS"
	case MethodCONNECT:
		return "CONNECT"
	default:
		return "UNKNOWN"
	}
}

var methodPrefixes = []struct {
	s string
	m Method
}{
	{"GET", MethodGET},
	{"POST", MethodPOST},
	{"PUT", MethodPUT},
	{"DELETE", MethodDELETE},
	{"HEAD", MethodHEAD},
	{"OPTIONS", MethodOPTIONS},
	{"CONNECT", MethodCONNECT},
}

func matchMethod(line []byte) Method {
	for _, mp := range methodPrefixes {
		if len(line) >= len(mp.s) && string(line[:len(mp.s)]) == mp.s {
			return mp.m
		}
	}
	return MethodUnknown
}

type state int

const (
	stateMethod state = iota
	stateHeaderName
	stateBody
	stateComplete
	stateError
)

const (
	// DefaultMaxHeaders bounds header count per request.
	DefaultMaxHeaders = 64
	// DefaultMaxURLLen bounds the request-target length.
	DefaultMaxURLLen = 4096
)

type headerSpan struct {
	nameStart, nameLen   int
	valueStart, valueLen int
}

// Request is a single resumable parse in progress. Zero value is ready to
// use with default limits; use NewRequest to set non-default limits.
type Request struct {
	maxHeaders int
	maxURLLen  int

	buf    []byte
	cursor int // bytes of buf already scanned past
	state  state

	Method      Method
	urlStart    int
	urlLen      int
	versionHigh int // 1 for HTTP/1.1, 0 for HTTP/1.0
	headers     []headerSpan

	IsWebSocket bool
	keepAliveHint bool // raw header presence, before version-aware defaulting

	bodyStart int
	bodyLen   int
}

// NewRequest creates a Request with explicit header/URL limits.
func NewRequest(maxHeaders, maxURLLen int) *Request {
	if maxHeaders <= 0 {
		maxHeaders = DefaultMaxHeaders
	}
	if maxURLLen <= 0 {
		maxURLLen = DefaultMaxURLLen
	}
	return &Request{maxHeaders: maxHeaders, maxURLLen: maxURLLen}
}

func (r *Request) limits() (int, int) {
	if r.maxHeaders == 0 {
		r.maxHeaders = DefaultMaxHeaders
	}
	if r.maxURLLen == 0 {
		r.maxURLLen = DefaultMaxURLLen
	}
	return r.maxHeaders, r.maxURLLen
}

// Feed appends data to the parser's internal buffer and attempts to make
// progress. It returns ErrNeedMore if the request head (and body, if any)
// isn't fully buffered yet, ErrMalformed on a structural violation, or nil
// once state is complete. Calling Feed again after completion is a no-op
// returning nil immediately.
func (r *Request) Feed(data []byte) error {
	if r.state == stateComplete {
		return nil
	}
	if r.state == stateError {
		return ErrMalformed
	}
	if len(data) > 0 {
		r.buf = append(r.buf, data...)
	}
	return r.parse()
}

func (r *Request) parse() error {
	maxHeaders, maxURLLen := r.limits()

	if r.state == stateMethod {
		lineEnd := findCRLF(r.buf, r.cursor)
		if lineEnd < 0 {
			if len(r.buf)-r.cursor > maxURLLen+32 {
				r.state = stateError
				return ErrMalformed
			}
			return ErrNeedMore
		}
		line := r.buf[r.cursor:lineEnd]
		sp1 := bytes.IndexByte(line, ' ')
		if sp1 < 0 {
			r.state = stateError
			return ErrMalformed
		}
		r.Method = matchMethod(line[:sp1])
		if r.Method == MethodUnknown {
			r.state = stateError
			return ErrMalformed
		}
		rest := line[sp1+1:]
		sp2 := bytes.IndexByte(rest, ' ')
		if sp2 < 0 {
			r.state = stateError
			return ErrMalformed
		}
		if sp2 > maxURLLen {
			r.state = stateError
			return ErrMalformed
		}
		r.urlStart = r.cursor + sp1 + 1
		r.urlLen = sp2

		versionStr := string(rest[sp2+1:])
		if strings.Contains(versionStr, "1.0") {
			r.versionHigh = 0
		} else {
			r.versionHigh = 1
		}

		r.cursor = lineEnd + 2
		r.state = stateHeaderName
	}

	for r.state == stateHeaderName {
		if r.cursor >= len(r.buf) {
			return ErrNeedMore
		}
		lineEnd := findCRLF(r.buf, r.cursor)
		if lineEnd < 0 {
			return ErrNeedMore
		}
		if lineEnd == r.cursor {
			// blank line: end of headers
			r.cursor += 2
			r.state = stateBody
			r.finalizeHeaderFlags()
			break
		}
		line := r.buf[r.cursor:lineEnd]
		colon := bytes.IndexByte(line, ':')
		if colon < 0 || len(r.headers) >= maxHeaders {
			r.state = stateError
			return ErrMalformed
		}
		nameStart := r.cursor
		nameLen := colon

		valueStart := r.cursor + colon + 1
		for valueStart < lineEnd && (r.buf[valueStart] == ' ' || r.buf[valueStart] == '\t') {
			valueStart++
		}
		valueLen := lineEnd - valueStart

		r.headers = append(r.headers, headerSpan{nameStart, nameLen, valueStart, valueLen})
		r.cursor = lineEnd + 2
	}

	if r.state == stateBody {
		contentLength := 0
		if v, ok := r.Header("Content-Length"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(string(v))); err == nil && n > 0 {
				contentLength = n
			}
		}
		if contentLength > 0 {
			available := len(r.buf) - r.cursor
			if available < contentLength {
				return ErrNeedMore
			}
			r.bodyStart = r.cursor
			r.bodyLen = contentLength
			r.cursor += contentLength
		}
		r.state = stateComplete
	}

	return nil
}

func (r *Request) finalizeHeaderFlags() {
	if v, ok := r.Header("Upgrade"); ok && strings.EqualFold(strings.TrimSpace(string(v)), "websocket") {
		r.IsWebSocket = true
	}
	if v, ok := r.Header("Connection"); ok {
		if strings.Contains(strings.ToLower(string(v)), "keep-alive") {
			r.keepAliveHint = true
		}
	}
}

func findCRLF(data []byte, from int) int {
	if from >= len(data) {
		return -1
	}
	idx := bytes.Index(data[from:], []byte("\r\n"))
	if idx < 0 {
		return -1
	}
	return from + idx
}

// Done reports whether the request head (and body) is fully parsed.
func (r *Request) Done() bool { return r.state == stateComplete }

// URL returns the raw request-target (path[?query]) as parsed.
func (r *Request) URL() []byte {
	return r.buf[r.urlStart : r.urlStart+r.urlLen]
}

// Path returns the URL with any query string stripped.
func (r *Request) Path() []byte {
	u := r.URL()
	if i := bytes.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}

// Body returns the parsed body, or nil if there was none.
func (r *Request) Body() []byte {
	if r.bodyLen == 0 {
		return nil
	}
	return r.buf[r.bodyStart : r.bodyStart+r.bodyLen]
}

// Header performs a case-insensitive lookup by name, returning the first
// match, matching the C source's linear scan.
func (r *Request) Header(name string) ([]byte, bool) {
	for _, h := range r.headers {
		hn := r.buf[h.nameStart : h.nameStart+h.nameLen]
		if len(hn) == len(name) && strings.EqualFold(string(hn), name) {
			return r.buf[h.valueStart : h.valueStart+h.valueLen], true
		}
	}
	return nil, false
}

// HeaderCount returns the number of headers parsed so far.
func (r *Request) HeaderCount() int { return len(r.headers) }

// KeepAlive applies the HTTP-version-aware default on top of the raw
// Connection header detection: HTTP/1.1 defaults to keep-alive unless
// "close" is present; HTTP/1.0 defaults to close unless "keep-alive" is
// present.
func (r *Request) KeepAlive() bool {
	v, ok := r.Header("Connection")
	if r.versionHigh >= 1 {
		if ok && strings.Contains(strings.ToLower(string(v)), "close") {
			return false
		}
		return true
	}
	return ok && r.keepAliveHint
}

// Consumed returns how many bytes of the fed input have been consumed by
// completed parsing (method line + headers + body, if complete).
func (r *Request) Consumed() int {
	return r.cursor
}

// Reset prepares the Request for a new message on the same connection,
// e.g. to support keep-alive pipelining. Any bytes fed past Consumed() are
// the caller's responsibility to re-feed.
func (r *Request) Reset() {
	maxH, maxU := r.limits()
	*r = Request{maxHeaders: maxH, maxURLLen: maxU}
}
