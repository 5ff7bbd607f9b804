package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one entry of the Active-Session Set. A signed token is only
// valid while its token id remains here and unexpired, which makes global
// revocation possible independent of signature expiry.
type Session struct {
	TokenID    string
	IdentityID int
	ExpiresAt  time.Time
}

// SessionStore is the Active-Session Set backend
type SessionStore interface {
	Put(ctx context.Context, s Session) error
	Get(ctx context.Context, tokenID string) (*Session, error)
	Revoke(ctx context.Context, tokenID string) error
	// Sweep removes expired entries and returns how many were removed.
	Sweep(ctx context.Context) (int, error)
}

// Sessions issues and validates session tokens against a SessionStore
type Sessions struct {
	store  SessionStore
	ttl    time.Duration
	issuer string
}

// NewSessions creates a session manager
func NewSessions(store SessionStore, ttl time.Duration, issuer string) *Sessions {
	return &Sessions{store: store, ttl: ttl, issuer: issuer}
}

// Issue mints a token id, records it in the Active-Session Set, and returns
// the signed token together with its expiry.
func (s *Sessions) Issue(ctx context.Context, identityID int, username string) (string, time.Time, error) {
	tokenID := uuid.NewString()
	expireAt := time.Now().Add(s.ttl)

	if err := s.store.Put(ctx, Session{
		TokenID:    tokenID,
		IdentityID: identityID,
		ExpiresAt:  expireAt,
	}); err != nil {
		return "", time.Time{}, err
	}

	token, err := GenerateToken(identityID, username, tokenID, expireAt, s.issuer)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expireAt, nil
}

// Validate verifies signature and expiry, then requires the token id to still
// be present and unexpired in the Active-Session Set.
func (s *Sessions) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := ParseToken(tokenString)
	if err != nil {
		return nil, err
	}

	sess, err := s.store.Get(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if sess == nil || time.Now().After(sess.ExpiresAt) {
		return nil, ErrSessionRevoked
	}
	return claims, nil
}

// Revoke removes a token id from the Active-Session Set
func (s *Sessions) Revoke(ctx context.Context, tokenID string) error {
	return s.store.Revoke(ctx, tokenID)
}

// RevokeExpired removes entries past expiry
func (s *Sessions) RevokeExpired(ctx context.Context) (int, error) {
	return s.store.Sweep(ctx)
}

// MemorySessionStore is the in-process Active-Session Set
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// NewMemorySessionStore creates an empty in-memory store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

// Put records a session
func (m *MemorySessionStore) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.TokenID] = s
	return nil
}

// Get returns the session for a token id, or nil if absent
func (m *MemorySessionStore) Get(_ context.Context, tokenID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[tokenID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// Revoke removes a session; idempotent if absent
func (m *MemorySessionStore) Revoke(_ context.Context, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tokenID)
	return nil
}

// Sweep removes expired sessions
func (m *MemorySessionStore) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	removed := 0
	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}
