// Package identity issues anonymous player sessions and tracks the session
// of the current client.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmptySecret    = errors.New("session secret must not be empty")
	ErrInvalidToken   = errors.New("invalid session token")
	ErrSessionExpired = errors.New("session expired")
)

// Session is an opaque player identity. Token is what the client presents to
// restore it.
type Session struct {
	UID       string
	Token     string
	Anonymous bool
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (s *Session) Expired(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// Provider is an identity service.
type Provider interface {
	SignInAnonymously(ctx context.Context) (*Session, error)

	CurrentSession() *Session

	// OnSessionChanged calls fn with the current session right away and
	// again whenever it changes.
	OnSessionChanged(fn func(*Session)) (cancel func())
}

// Clock is implemented by providers whose sessions expire on a clock other
// than the wall clock.
type Clock interface {
	Now() time.Time
}

// TokenProvider restores a session from a previously issued token.
type TokenProvider interface {
	Provider
	SignInWithToken(ctx context.Context, token string) (*Session, error)
}
