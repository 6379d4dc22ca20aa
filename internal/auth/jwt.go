// Package auth provides an optional Bearer-token alternative to the
// cookie session for API clients that can't hold cookies (health
// probes, CLI tools). A token is not an independent trust root: it
// carries a session id as its subject claim, and verifying it means
// resolving that id through the same session manager the cookie path
// uses, so destroying a session invalidates any token minted for it.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"terminalgw/internal/session"
)

// Claims identifies the session a bearer token was minted for.
type Claims struct {
	SessionID string `json:"sessionId"`
	jwt.RegisteredClaims
}

// JWTManager mints and verifies session-id-carrying bearer tokens.
type JWTManager struct {
	secretKey     []byte
	tokenDuration time.Duration
	sessions      *session.Manager
}

// NewJWTManager builds a manager that signs tokens with secretKey and
// resolves verified tokens' session ids through sessions.
func NewJWTManager(secretKey string, tokenDuration time.Duration, sessions *session.Manager) *JWTManager {
	return &JWTManager{
		secretKey:     []byte(secretKey),
		tokenDuration: tokenDuration,
		sessions:      sessions,
	}
}

// Generate mints a bearer token for an already-authenticated session.
func (manager *JWTManager) Generate(sessionID string) (string, error) {
	claims := &Claims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(manager.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "terminalgw",
			Subject:   sessionID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(manager.secretKey)
}

// Verify validates token's signature/expiry and resolves its claimed
// session id against the live session store; a token whose session has
// since been destroyed or expired is rejected even if the signature and
// expiry claim are both still valid.
func (manager *JWTManager) Verify(tokenString string) (*session.Session, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return manager.secretKey, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	sess, found := manager.sessions.Find(claims.SessionID)
	if !found {
		return nil, errors.New("token references an unknown or expired session")
	}
	return sess, nil
}

// ExtractTokenFromHeader extracts a bearer token from Authorization.
func ExtractTokenFromHeader(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("authorization header missing")
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", errors.New("invalid authorization header format")
	}

	return strings.TrimPrefix(authHeader, bearerPrefix), nil
}

// ExtractTokenFromQuery extracts a bearer token from the "token" query
// parameter, used by WebSocket clients that can't set headers before
// the handshake.
func ExtractTokenFromQuery(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return "", errors.New("token query parameter missing")
	}
	return token, nil
}

// AuthMiddleware wraps an admin-interface HTTP handler with bearer-token
// verification, storing the resolved session on the request context.
func (manager *JWTManager) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := ExtractTokenFromHeader(r)
		if err != nil {
			token, err = ExtractTokenFromQuery(r)
			if err != nil {
				http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
				return
			}
		}

		sess, err := manager.Verify(token)
		if err != nil {
			http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}

		r = r.WithContext(SetUserContext(r.Context(), sess))
		next(w, r)
	}
}

// WebSocketAuth validates a bearer token for a WebSocket upgrade request.
func (manager *JWTManager) WebSocketAuth(r *http.Request) (*session.Session, error) {
	token, err := ExtractTokenFromQuery(r)
	if err != nil {
		token, err = ExtractTokenFromHeader(r)
		if err != nil {
			return nil, fmt.Errorf("no valid token found: %w", err)
		}
	}
	return manager.Verify(token)
}
