package identity

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Auth is the session state of one client, backed by an Issuer. Concurrent
// anonymous sign-ins share a single issued session.
type Auth struct {
	issuer *Issuer
	group  singleflight.Group

	mu        sync.RWMutex
	current   *Session
	listeners map[uint64]func(*Session)
	next      uint64
}

var (
	_ TokenProvider = (*Auth)(nil)
	_ Clock         = (*Auth)(nil)
)

func NewAuth(issuer *Issuer) *Auth {
	return &Auth{
		issuer:    issuer,
		listeners: make(map[uint64]func(*Session)),
	}
}

// CurrentSession returns the signed-in session, or nil once it has expired.
func (a *Auth) CurrentSession() *Session {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.current.Expired(a.issuer.Now()) {
		return nil
	}
	return a.current
}

// Now is the issuer's clock, against which sessions expire.
func (a *Auth) Now() time.Time {
	return a.issuer.Now()
}

func (a *Auth) SignInAnonymously(ctx context.Context) (*Session, error) {
	if s := a.CurrentSession(); s != nil {
		return s, nil
	}

	v, err, _ := a.group.Do("anonymous", func() (any, error) {
		if s := a.CurrentSession(); s != nil {
			return s, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s, err := a.issuer.Issue()
		if err != nil {
			return nil, err
		}
		a.set(s)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (a *Auth) SignInWithToken(ctx context.Context, token string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, err := a.issuer.Verify(token)
	if err != nil {
		return nil, err
	}

	if cur := a.CurrentSession(); cur != nil && cur.Token == s.Token {
		return cur, nil
	}
	a.set(s)
	return s, nil
}

func (a *Auth) SignOut() {
	a.mu.RLock()
	signedIn := a.current != nil
	a.mu.RUnlock()

	if signedIn {
		a.set(nil)
	}
}

func (a *Auth) OnSessionChanged(fn func(*Session)) func() {
	a.mu.Lock()
	id := a.next
	a.next++
	a.listeners[id] = fn
	a.mu.Unlock()

	fn(a.CurrentSession())

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, id)
			a.mu.Unlock()
		})
	}
}

func (a *Auth) set(s *Session) {
	a.mu.Lock()
	a.current = s
	fns := make([]func(*Session), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
