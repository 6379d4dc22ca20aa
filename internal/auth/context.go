package auth

import (
	"context"

	"terminalgw/internal/session"
)

type contextKey string

const sessionContextKey contextKey = "session"

// SetUserContext stores the session a bearer token resolved to on ctx.
func SetUserContext(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, sess)
}

// GetUserFromContext retrieves the session a prior AuthMiddleware call
// resolved for this request, if any.
func GetUserFromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey).(*session.Session)
	return sess, ok
}
