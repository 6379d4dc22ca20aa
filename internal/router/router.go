// Package router dispatches a parsed request to the login/logout/status
// API handlers, the terminal WebSocket proxy, a plain WebSocket echo
// accept, or the static-file handler, following the same ordered rule
// list as the original gateway's request router.
package router

import (
	"encoding/json"
	"fmt"
	"strings"

	"terminalgw/internal/httpparse"
	"terminalgw/internal/session"
	"terminalgw/internal/staticfiles"
)

// Config carries everything the router needs to resolve a request that
// doesn't come from the session/connection layer itself.
type Config struct {
	TerminalHost string
	TerminalPort int
	PasswordHash string
	Sessions     *session.Manager
	Static       *staticfiles.Cache
}

// Decision is what the caller (internal/server's routeRequest) should do
// with a routed request. Exactly one of Response, ProxyUpgrade or
// PlainWSAccept is meaningful.
type Decision struct {
	Response      *httpparse.Response
	ProxyUpgrade  bool             // true: hand off to the proxy engine
	PlainWSAccept bool             // true: accept as a plain echo WebSocket
	Session       *session.Session // session resolved/created during routing
	MintToken     bool             // true: caller should attach a fresh bearer token for Session
}

// Route evaluates the ordered dispatch rules against req and returns what
// to do next. sess is the session already resolved from the request's
// Cookie header or bearer token by the caller (nil if none/unknown).
func Route(cfg *Config, req *httpparse.Request, sess *session.Session) Decision {
	path := string(req.Path())

	if strings.HasPrefix(path, "/api/") {
		return handleAPI(cfg, req, path, sess)
	}

	if req.IsWebSocket {
		if path == "/terminal-proxy" {
			return Decision{ProxyUpgrade: true, Session: sess}
		}
		return Decision{PlainWSAccept: true, Session: sess}
	}

	return Decision{Response: serveStatic(cfg, path), Session: sess}
}

func serveStatic(cfg *Config, path string) *httpparse.Response {
	if cfg.Static == nil {
		return httpparse.HTML(404, "<html><body><h1>404 Not Found</h1></body></html>")
	}
	entry, err := cfg.Static.Get(path)
	if err != nil {
		return httpparse.HTML(404, "<html><body><h1>404 Not Found</h1></body></html>")
	}
	defer cfg.Static.Release(entry)

	resp := httpparse.NewResponse(200, "OK")
	resp.AddHeader("Content-Type", entry.ContentType())
	resp.SetBody(entry.Bytes())
	return resp
}

func handleAPI(cfg *Config, req *httpparse.Request, path string, sess *session.Session) Decision {
	if path == "/api/login" && req.Method == httpparse.MethodPOST {
		return handleLogin(cfg, req, sess)
	}

	if sess == nil || !sess.Authenticated {
		return Decision{Response: httpparse.JSON(401, `{"error":"Unauthorized","redirect":"/login"}`)}
	}

	switch {
	case path == "/api/logout" && req.Method == httpparse.MethodPOST:
		return handleLogout(cfg, sess)
	case path == "/api/terminal-config":
		return Decision{Response: handleTerminalConfig(cfg), Session: sess}
	case path == "/api/session-status":
		return Decision{Response: handleSessionStatus(sess), Session: sess}
	default:
		return Decision{Response: httpparse.JSON(404, `{"error":"Not Found"}`), Session: sess}
	}
}

// loginBody is the minimal JSON shape the login endpoint accepts; this is
// a real JSON decode (not the original's hand-rolled substring search),
// since encoding/json is the idiomatic Go way to pull one field out of a
// small request body, not a scope expansion beyond "minimal extractor".
type loginBody struct {
	Password string `json:"password"`
}

func handleLogin(cfg *Config, req *httpparse.Request, sess *session.Session) Decision {
	var body loginBody
	if err := json.Unmarshal(req.Body(), &body); err != nil || body.Password == "" {
		return Decision{Response: httpparse.JSON(400, `{"success":false,"message":"Missing password"}`)}
	}

	newSession := sess == nil
	if newSession {
		created, err := cfg.Sessions.Create()
		if err != nil {
			return Decision{Response: httpparse.JSON(500, `{"success":false,"message":"Session error"}`)}
		}
		sess = created
	}

	if !session.Authenticate(sess, body.Password, cfg.PasswordHash) {
		return Decision{
			Response: httpparse.JSON(401, `{"success":false,"message":"Invalid password"}`),
			Session:  sess,
		}
	}

	resp := httpparse.JSON(200, `{"success":true,"sessionInfo":{"expiresIn":"30 days","persistent":true}}`)
	if newSession {
		resp.AddHeader("Set-Cookie", session.CookieValue(sess.ID))
	}
	return Decision{Response: resp, Session: sess, MintToken: true}
}

func handleLogout(cfg *Config, sess *session.Session) Decision {
	cfg.Sessions.Destroy(sess)
	resp := httpparse.JSON(200, `{"success":true}`)
	resp.AddHeader("Set-Cookie", session.ExpiredCookieValue())
	return Decision{Response: resp}
}

func handleTerminalConfig(cfg *Config) *httpparse.Response {
	body := fmt.Sprintf(
		`{"host":%q,"port":%d,"url":"/terminal-proxy","checkHealth":true,"rebootOnLogout":false}`,
		cfg.TerminalHost, cfg.TerminalPort)
	return httpparse.JSON(200, body)
}

func handleSessionStatus(sess *session.Session) *httpparse.Response {
	body, _ := json.Marshal(map[string]any{
		"authenticated": sess.Authenticated,
		"loginTime":     sess.Created.UTC().Format("2006-01-02T15:04:05Z"),
		"lastActivity":  sess.LastAccess.UTC().Format("2006-01-02T15:04:05Z"),
	})
	return httpparse.JSON(200, string(body))
}
