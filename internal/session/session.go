// Package session implements the dual-indexed session store: a hash
// table keyed by session id for O(1) lookup, and a red-black tree ordered
// by (last-access, id) for O(log n) expiry sweeps.
package session

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"terminalgw/internal/hashtable"
	"terminalgw/internal/pool"
	"terminalgw/internal/rbtree"
)

// sessionPoolInitialChunks seeds the session pool; it grows geometrically
// past this if maxSessions (or an unlimited manager) ever needs more live
// at once.
const sessionPoolInitialChunks = 64

// IDLength is the length, in characters, of a generated session id.
const IDLength = 32

const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// Session is one authenticated (or pending) login record.
type Session struct {
	ID            string
	Created       time.Time
	LastAccess    time.Time
	Authenticated bool

	node *rbtree.Node[*Session]
}

// Manager owns every live session, indexed both by id and by expiry
// order. Every Manager method takes an internal mutex, so the methods may
// be called from any goroutine; the event-loop thread is the sole caller
// in this gateway. The fields of a returned *Session are not guarded by
// that mutex.
type Manager struct {
	mu      sync.Mutex
	table   *hashtable.Table[*Session]
	expiry  *rbtree.Tree[*Session]
	timeout time.Duration

	pool *pool.Pool[Session]
	// maxSessions caps concurrently live sessions; <= 0 means unlimited.
	// The pool itself grows without bound when exhausted (see
	// internal/pool), so this cap is enforced as an explicit count check
	// in Create rather than derived from pool exhaustion, unlike the
	// original's fixed-size ct_mem_pool_alloc returning NULL.
	maxSessions int
}

// NewManager creates a session store with the given expiry timeout.
// maxSessions caps concurrently live sessions; pass 0 for unlimited.
func NewManager(timeout time.Duration, maxSessions int) *Manager {
	m := &Manager{
		table:       hashtable.New[*Session](hashtable.DefaultBuckets, nil),
		timeout:     timeout,
		maxSessions: maxSessions,
		pool:        pool.New(sessionPoolInitialChunks, func() *Session { return &Session{} }),
	}
	m.expiry = rbtree.New(func(a, b *Session) int {
		if !a.LastAccess.Equal(b.LastAccess) {
			if a.LastAccess.Before(b.LastAccess) {
				return -1
			}
			return 1
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return m
}

func generateID() (string, error) {
	buf := make([]byte, IDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, IDLength)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(out), nil
}

// ErrMaxSessions is returned by Create when the manager is already at its
// configured session cap.
var ErrMaxSessions = fmt.Errorf("session: max sessions reached")

// Create allocates a new, unauthenticated session.
func (m *Manager) Create() (*Session, error) {
	id, err := generateID()
	if err != nil {
		return nil, fmt.Errorf("session: generate id: %w", err)
	}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxSessions > 0 && m.table.Count() >= m.maxSessions {
		return nil, ErrMaxSessions
	}

	s := m.pool.Acquire()
	s.ID = id
	s.Created = now
	s.LastAccess = now

	m.table.Set([]byte(id), s)
	s.node = m.expiry.Insert(s)
	return s, nil
}

// Find looks up a session by id and refreshes its last-access time,
// re-keying it in the expiry tree.
func (m *Manager) Find(id string) (*Session, bool) {
	if len(id) != IDLength {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.table.Get([]byte(id))
	if !ok {
		return nil, false
	}

	m.expiry.Delete(s.node)
	s.LastAccess = time.Now()
	s.node = m.expiry.Insert(s)
	return s, true
}

// Destroy removes a session from both indexes and zeroes its fields.
func (m *Manager) Destroy(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.destroyLocked(s)
}

func (m *Manager) destroyLocked(s *Session) {
	m.table.Delete([]byte(s.ID))
	m.expiry.Delete(s.node)
	m.pool.Release(s)
}

// Sweep destroys every session whose last access is older than the
// configured timeout, walking the expiry tree from its minimum until it
// finds one that hasn't expired yet.
func (m *Manager) Sweep() int {
	cutoff := time.Now().Add(-m.timeout)

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for {
		min := m.expiry.FindMin()
		if min == nil {
			break
		}
		if min.Value.LastAccess.After(cutoff) {
			break
		}
		m.destroyLocked(min.Value)
		n++
	}
	return n
}

// Authenticate marks a session authenticated after the caller has already
// verified credentials; session-level logic never sees the raw password.
func (s *Session) Authenticate() {
	s.Authenticated = true
	s.LastAccess = time.Now()
}

// Stats reports active and authenticated session counts.
func (m *Manager) Stats() (total, authenticated int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total = m.table.Count()
	m.table.ForEach(func(_ []byte, s *Session) {
		if s.Authenticated {
			authenticated++
		}
	})
	return total, authenticated
}

// CookieValue formats the Set-Cookie header value for a newly created
// session, per the gateway's fixed cookie contract.
func CookieValue(id string) string {
	return fmt.Sprintf("sessionId=%s; Path=/; HttpOnly; SameSite=Lax; Max-Age=2592000", id)
}

// ExpiredCookieValue formats a Set-Cookie header that immediately expires
// the session cookie, used on logout.
func ExpiredCookieValue() string {
	return "sessionId=; Path=/; HttpOnly; SameSite=Lax; Max-Age=0"
}

// IDFromCookieHeader extracts the sessionId value from a raw Cookie
// header, if present and well-formed (exactly IDLength characters).
func IDFromCookieHeader(cookieHeader string) (string, bool) {
	const marker = "sessionId="
	idx := indexOf(cookieHeader, marker)
	if idx < 0 {
		return "", false
	}
	start := idx + len(marker)
	end := start
	for end < len(cookieHeader) && cookieHeader[end] != ';' && cookieHeader[end] != ' ' {
		end++
	}
	if end-start != IDLength {
		return "", false
	}
	return cookieHeader[start:end], true
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
