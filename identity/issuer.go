package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultIssuerName = "minigames"
	DefaultSessionTTL = 30 * 24 * time.Hour
)

type claims struct {
	Anonymous bool `json:"anon"`
	jwtlib.RegisteredClaims
}

type IssuerOption func(*Issuer)

func WithClock(clock clockwork.Clock) IssuerOption {
	return func(i *Issuer) {
		i.clock = clock
	}
}

func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) {
		if name != "" {
			i.name = name
		}
	}
}

// Issuer signs and verifies HS256 session tokens.
type Issuer struct {
	secret []byte
	name   string
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewIssuer(secret []byte, opts ...IssuerOption) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}

	i := &Issuer{
		secret: append([]byte(nil), secret...),
		name:   DefaultIssuerName,
		ttl:    DefaultSessionTTL,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// RandomSecret returns 32 random bytes, for when no secret is configured.
// Sessions signed with it do not survive a restart.
func RandomSecret() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (i *Issuer) Now() time.Time {
	return i.clock.Now()
}

// Issue creates an anonymous session for a new UID.
func (i *Issuer) Issue() (*Session, error) {
	now := i.clock.Now().Truncate(time.Second)
	c := claims{
		Anonymous: true,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    i.name,
			Subject:   uuid.NewString(),
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &Session{
		UID:       c.Subject,
		Token:     signed,
		Anonymous: true,
		IssuedAt:  now,
		ExpiresAt: now.Add(i.ttl),
	}, nil
}

func (i *Issuer) Verify(token string) (*Session, error) {
	var c claims
	_, err := jwtlib.ParseWithClaims(token, &c,
		func(*jwtlib.Token) (any, error) {
			return i.secret, nil
		},
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
		jwtlib.WithIssuer(i.name),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(i.clock.Now),
	)
	switch {
	case errors.Is(err, jwtlib.ErrTokenExpired):
		return nil, ErrSessionExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case c.Subject == "":
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	s := &Session{
		UID:       c.Subject,
		Token:     token,
		Anonymous: c.Anonymous,
		ExpiresAt: c.ExpiresAt.Time,
	}
	if c.IssuedAt != nil {
		s.IssuedAt = c.IssuedAt.Time
	}
	return s, nil
}
