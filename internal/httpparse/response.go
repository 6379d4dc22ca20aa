package httpparse

import (
	"fmt"
	"strconv"
	"strings"
)

// Response is a minimal HTTP/1.1 response builder mirroring the resumable
// request parser's status-line/header/body shape in reverse.
type Response struct {
	StatusCode int
	StatusText string
	headers    []headerPair
	body       []byte
}

type headerPair struct {
	name  string
	value string
}

// NewResponse starts a response with the given status line.
func NewResponse(statusCode int, statusText string) *Response {
	return &Response{StatusCode: statusCode, StatusText: statusText}
}

// AddHeader appends a header. Content-Length is computed automatically at
// Build time unless one is added here explicitly, in which case Build
// emits the added value instead.
func (r *Response) AddHeader(name, value string) {
	r.headers = append(r.headers, headerPair{name, value})
}

// SetBody sets the response body.
func (r *Response) SetBody(body []byte) {
	r.body = body
}

// JSON builds a status_code/application-json response in one call,
// mirroring ct_response_json's shortcut.
func JSON(statusCode int, body string) *Response {
	r := NewResponse(statusCode, statusText(statusCode))
	r.AddHeader("Content-Type", "application/json")
	r.SetBody([]byte(body))
	return r
}

// HTML builds a status_code/text-html response in one call, mirroring
// ct_response_html's shortcut.
func HTML(statusCode int, body string) *Response {
	r := NewResponse(statusCode, statusText(statusCode))
	r.AddHeader("Content-Type", "text/html; charset=utf-8")
	r.SetBody([]byte(body))
	return r
}

func statusText(code int) string {
	if code == 200 {
		return "OK"
	}
	switch code {
	case 101:
		return "Switching Protocols"
	case 204:
		return "No Content"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 304:
		return "Not Modified"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 413:
		return "Payload Too Large"
	case 500:
		return "Internal Server Error"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	default:
		return "Error"
	}
}

// Build serializes the response to wire bytes, computing Content-Length
// from the body unless the caller already added one explicitly.
func (r *Response) Build() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.StatusCode, r.StatusText)

	hasContentLength := false
	for _, h := range r.headers {
		if strings.EqualFold(h.name, "Content-Length") {
			hasContentLength = true
		}
		fmt.Fprintf(&b, "%s: %s\r\n", h.name, h.value)
	}
	if !hasContentLength {
		fmt.Fprintf(&b, "Content-Length: %s\r\n", strconv.Itoa(len(r.body)))
	}
	b.WriteString("\r\n")

	out := []byte(b.String())
	out = append(out, r.body...)
	return out
}
