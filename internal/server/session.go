package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session errors.
var (
	ErrSessionInvalid = errors.New("server: invalid session")
	ErrSessionExpired = errors.New("server: session expired")
)

// session is the server-side state behind a cookie.
type session struct {
	id       string
	userID   int64
	username string
	expires  time.Time
}

// sessionManager issues HMAC-signed session cookies backed by an
// in-memory table. Cookie value is "<uuid>.<base64url signature>"; the
// signature covers the id only, the rest of the state never leaves the
// server.
type sessionManager struct {
	secret []byte
	ttl    time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

func newSessionManager(secret string, ttl time.Duration) *sessionManager {
	return &sessionManager{
		secret:   []byte(secret),
		ttl:      ttl,
		sessions: make(map[string]*session),
	}
}

// Create opens a session for the user and returns the signed cookie value.
func (m *sessionManager) Create(userID int64, username string) string {
	id := uuid.NewString()

	m.mu.Lock()
	m.sessions[id] = &session{
		id:       id,
		userID:   userID,
		username: username,
		expires:  time.Now().Add(m.ttl),
	}
	m.mu.Unlock()

	return id + "." + m.sign(id)
}

// Resolve validates a cookie value and returns the session behind it.
func (m *sessionManager) Resolve(cookie string) (*session, error) {
	id, sig, ok := strings.Cut(cookie, ".")
	if !ok {
		return nil, ErrSessionInvalid
	}
	want := m.sign(id)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(want)) != 1 {
		return nil, ErrSessionInvalid
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionInvalid
	}
	if time.Now().After(s.expires) {
		delete(m.sessions, id)
		return nil, ErrSessionExpired
	}
	return s, nil
}

// Destroy removes the session behind a cookie value, if valid.
func (m *sessionManager) Destroy(cookie string) {
	id, sig, ok := strings.Cut(cookie, ".")
	if !ok || subtle.ConstantTimeCompare([]byte(sig), []byte(m.sign(id))) != 1 {
		return
	}

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count returns the number of live sessions, pruning expired ones.
func (m *sessionManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, s := range m.sessions {
		if now.After(s.expires) {
			delete(m.sessions, id)
		}
	}
	return len(m.sessions)
}

func (m *sessionManager) sign(id string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
