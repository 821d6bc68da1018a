// Package session keeps the admin's access token, binds it to the client
// that signed in and decides whether a request may use the admin routes.
package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNoSession means the request carries no session id, or one that is not
// bound to the stored token.
var ErrNoSession = errors.New("no admin session")

// Store holds the persisted session: the access token and the id of the
// client session it is bound to. Clear drops both.
type Store interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	SessionID(ctx context.Context) (string, error)
	SetSessionID(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

type MemoryStore struct {
	mu        sync.RWMutex
	token     string
	sessionID string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Token(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *MemoryStore) SetToken(_ context.Context, token string) error {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SessionID(context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID, nil
}

func (s *MemoryStore) SetSessionID(_ context.Context, id string) error {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.sessionID = ""
	s.mu.Unlock()
	return nil
}

// Gate checks the caller's session and the stored token before an admin
// route runs.
type Gate struct {
	store Store
	now   func() time.Time
	newID func() string
}

func NewGate(store Store, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{store: store, now: now, newID: uuid.NewString}
}

// Authorize admits the request holding sessionID when that id is the one
// bound at sign-in and the stored token belongs to an admin. A token with
// the wrong role is cleared, like a sign-out. An expired token is kept,
// since the API may still refresh it.
func (g *Gate) Authorize(ctx context.Context, sessionID string) (Claims, error) {
	if err := g.checkSession(ctx, sessionID); err != nil {
		return Claims{}, err
	}
	token, err := g.store.Token(ctx)
	if err != nil {
		return Claims{}, err
	}
	claims, err := DecodeClaims(token, g.now())
	if err != nil && !errors.Is(err, ErrTokenExpired) {
		if !errors.Is(err, ErrNoToken) {
			_ = g.store.Clear(ctx)
		}
		return Claims{}, err
	}
	if err := RequireAdmin(claims); err != nil {
		_ = g.store.Clear(ctx)
		return Claims{}, err
	}
	return claims, nil
}

// checkSession compares without leaking how much of the id matched. A
// mismatch leaves the stored session alone.
func (g *Gate) checkSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}
	bound, err := g.store.SessionID(ctx)
	if err != nil {
		return err
	}
	if bound == "" || subtle.ConstantTimeCompare([]byte(bound), []byte(sessionID)) != 1 {
		return ErrNoSession
	}
	return nil
}

// SignIn stores token if it carries the admin role and returns the id of a
// new session bound to it. Signing in again replaces the previous session.
func (g *Gate) SignIn(ctx context.Context, token string) (Claims, string, error) {
	claims, err := DecodeClaims(token, g.now())
	if err != nil {
		return Claims{}, "", err
	}
	if err := RequireAdmin(claims); err != nil {
		return Claims{}, "", err
	}
	id := g.newID()
	if err := g.store.SetToken(ctx, token); err != nil {
		return Claims{}, "", err
	}
	if err := g.store.SetSessionID(ctx, id); err != nil {
		return Claims{}, "", err
	}
	return claims, id, nil
}

func (g *Gate) SignOut(ctx context.Context) error {
	return g.store.Clear(ctx)
}
