package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"terminalgw/internal/session"
)

func TestGenerateAndVerifyRoundTrip(t *testing.T) {
	mgr := session.NewManager(time.Hour, 0)
	sess, err := mgr.Create()
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	jm := NewJWTManager("test-secret", time.Minute, mgr)
	token, err := jm.Generate(sess.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	got, err := jm.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.ID != sess.ID {
		t.Fatalf("want session %s, got %s", sess.ID, got.ID)
	}
}

func TestVerifyRejectsTokenForDestroyedSession(t *testing.T) {
	mgr := session.NewManager(time.Hour, 0)
	sess, _ := mgr.Create()
	jm := NewJWTManager("test-secret", time.Minute, mgr)

	token, err := jm.Generate(sess.ID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	mgr.Destroy(sess)

	if _, err := jm.Verify(token); err == nil {
		t.Fatal("expected verification to fail once the session is destroyed")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	mgr := session.NewManager(time.Hour, 0)
	sess, _ := mgr.Create()

	signer := NewJWTManager("secret-a", time.Minute, mgr)
	token, _ := signer.Generate(sess.ID)

	verifier := NewJWTManager("secret-b", time.Minute, mgr)
	if _, err := verifier.Verify(token); err == nil {
		t.Fatal("expected a token signed with a different secret to be rejected")
	}
}

func TestExtractTokenFromHeaderRequiresBearerPrefix(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic abc123")
	if _, err := ExtractTokenFromHeader(req); err == nil {
		t.Fatal("expected a non-Bearer Authorization header to be rejected")
	}
}

func TestAuthMiddlewareSetsSessionOnContext(t *testing.T) {
	mgr := session.NewManager(time.Hour, 0)
	sess, _ := mgr.Create()
	jm := NewJWTManager("test-secret", time.Minute, mgr)
	token, _ := jm.Generate(sess.ID)

	var seen *session.Session
	handler := jm.AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/api/session-status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler(httptest.NewRecorder(), req)

	if seen == nil || seen.ID != sess.ID {
		t.Fatalf("expected the resolved session on context, got %+v", seen)
	}
}
