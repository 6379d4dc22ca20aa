package session

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ValidateHashFormat does a cheap structural check on a bcrypt hash
// string ($2a$/2b$/2y$ + cost 4-31 + 22-char salt + 31-char hash) before
// the expensive comparison, so a malformed --password-hash configuration
// fails fast at startup rather than on every login attempt.
func ValidateHashFormat(hash string) error {
	if len(hash) < 60 {
		return fmt.Errorf("session: bcrypt hash too short")
	}
	if hash[0] != '$' || hash[1] != '2' {
		return fmt.Errorf("session: not a bcrypt hash")
	}
	switch hash[2] {
	case 'a', 'b', 'y':
	default:
		return fmt.Errorf("session: unsupported bcrypt variant %q", hash[2])
	}
	if hash[3] != '$' {
		return fmt.Errorf("session: malformed bcrypt hash")
	}

	rest := hash[4:]
	dollar := strings.IndexByte(rest, '$')
	if dollar < 0 || dollar > 2 {
		return fmt.Errorf("session: malformed bcrypt cost field")
	}
	cost, err := strconv.Atoi(rest[:dollar])
	if err != nil || cost < 4 || cost > 31 {
		return fmt.Errorf("session: bcrypt cost out of range [4,31]")
	}

	saltAndHash := rest[dollar+1:]
	if len(saltAndHash) < 22+31 {
		return fmt.Errorf("session: bcrypt salt/hash too short")
	}
	return nil
}

// VerifyPassword checks password against a validated bcrypt hash.
func VerifyPassword(password, hash string) bool {
	if ValidateHashFormat(hash) != nil {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Authenticate verifies password against passwordHash and, on success,
// marks the session authenticated and refreshes its last-access time. It
// never mutates the session on failure.
func Authenticate(s *Session, password, passwordHash string) bool {
	if !VerifyPassword(password, passwordHash) {
		return false
	}
	s.Authenticate()
	return true
}
