package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/fedipanel/model"
)

// TokenVerifier checks a login token.
type TokenVerifier interface {
	Verify(raw string) (Claims, error)
}

// Manager creates, looks up, and clears sessions.
type Manager struct {
	store    Store
	verifier TokenVerifier
	ttl      time.Duration
	now      func() time.Time
	onEnd    func(id string)
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithEndHook registers fn to run after a session is cleared, so caches keyed
// by session can drop their entries.
func WithEndHook(fn func(id string)) ManagerOption {
	return func(m *Manager) { m.onEnd = fn }
}

// NewManager creates a manager whose sessions live at most ttl.
func NewManager(store Store, verifier TokenVerifier, ttl time.Duration, opts ...ManagerOption) *Manager {
	m := &Manager{store: store, verifier: verifier, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login verifies the bearer token and opens a session for its holder. The
// session expires at the earlier of the token expiry and the configured TTL.
func (m *Manager) Login(ctx context.Context, token string) (*model.Session, error) {
	claims, err := m.verifier.Verify(token)
	if err != nil {
		return nil, model.NewUnauthorizedError(err.Error())
	}

	now := m.now()
	expires := now.Add(m.ttl)
	if !claims.ExpiresAt.IsZero() && claims.ExpiresAt.Before(expires) {
		expires = claims.ExpiresAt
	}

	s := &model.Session{
		ID:        uuid.NewString(),
		AccountID: claims.AccountID,
		Username:  claims.Username,
		Token:     token,
		Roles:     claims.Roles,
		CreatedAt: now,
		ExpiresAt: expires,
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("session: login: %w", err)
	}
	return s, nil
}

// Lookup returns the live session with id, or an UNAUTHORIZED envelope.
func (m *Manager) Lookup(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, model.NewUnauthorizedError("No session")
	}
	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, model.NewUnauthorizedError("Session expired")
	}
	if err != nil {
		return nil, fmt.Errorf("session: lookup: %w", err)
	}
	if s.Expired(m.now()) {
		_ = m.End(ctx, id)
		return nil, model.NewUnauthorizedError("Session expired")
	}
	return s, nil
}

// End clears a session at logout or after the backend rejected its token.
func (m *Manager) End(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("session: end: %w", err)
	}
	if m.onEnd != nil {
		m.onEnd(id)
	}
	return nil
}
