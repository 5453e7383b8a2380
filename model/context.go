package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Session is the authenticated state of one panel user. It is created at
// login, carried explicitly through every request, and cleared at logout or
// when the backend rejects its token.
type Session struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Validate checks that all mandatory fields are present.
func (s *Session) Validate() error {
	var errs []error
	if s.ID == "" {
		errs = append(errs, fmt.Errorf("ID is required"))
	}
	if s.AccountID == "" {
		errs = append(errs, fmt.Errorf("AccountID is required"))
	}
	if s.Token == "" {
		errs = append(errs, fmt.Errorf("Token is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Expired reports whether the session is past its expiry. A zero ExpiresAt
// never expires.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// HasRole returns true if the session holds the given role.
func (s *Session) HasRole(role string) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// RequestContext carries the session and tracing information for the
// lifetime of one request. It is immutable after construction.
type RequestContext struct {
	Session       *Session
	CorrelationID string
	TraceID       string
	Locale        string
}

// SessionID returns the session ID or an empty string for anonymous requests.
func (rc *RequestContext) SessionID() string {
	if rc == nil || rc.Session == nil {
		return ""
	}
	return rc.Session.ID
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext extracts the RequestContext from the context, panicking if
// it is not present. Only call it behind the session middleware.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: RequestContext not found in context")
	}
	return rctx
}
