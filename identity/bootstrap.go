package identity

import (
	"context"
	"sync"
	"time"

	"github.com/Seednode/minigames/reactive"
	"github.com/rs/zerolog/log"
)

type BootstrapOption func(*Bootstrap)

// WithInitialToken makes EnsureSession try to restore token before falling
// back to an anonymous session.
func WithInitialToken(token string) BootstrapOption {
	return func(b *Bootstrap) {
		b.initialToken = token
	}
}

// Bootstrap guarantees that a client has a session before it touches
// leaderboard data, without asking anyone to log in.
type Bootstrap struct {
	provider     Provider
	initialToken string
	current      *reactive.Value[*Session]

	once        sync.Once
	stopWatch   func()
	stopWatchMu sync.Mutex
}

func NewBootstrap(provider Provider, opts ...BootstrapOption) *Bootstrap {
	b := &Bootstrap{
		provider: provider,
		current:  reactive.NewValue[*Session](nil),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Initialize starts tracking the provider's session and ensures one exists.
// Calls after the first only ensure the session.
func (b *Bootstrap) Initialize(ctx context.Context) *Session {
	b.once.Do(func() {
		stop := b.provider.OnSessionChanged(b.current.Set)

		b.stopWatchMu.Lock()
		b.stopWatch = stop
		b.stopWatchMu.Unlock()
	})

	return b.EnsureSession(ctx)
}

// EnsureSession returns the active session, creating one when absent. On
// failure it logs and returns nil; callers treat that as "no session".
func (b *Bootstrap) EnsureSession(ctx context.Context) *Session {
	if s := b.Current(); s != nil {
		return s
	}
	if s := b.provider.CurrentSession(); s != nil {
		b.current.Set(s)
		return s
	}

	if b.initialToken != "" {
		if tp, ok := b.provider.(TokenProvider); ok {
			s, err := tp.SignInWithToken(ctx, b.initialToken)
			if err == nil {
				b.current.Set(s)
				return s
			}
			log.Warn().Err(err).Msg("initial session token rejected, signing in anonymously")
		}
	}

	s, err := b.provider.SignInAnonymously(ctx)
	if err != nil {
		log.Error().Err(err).Msg("anonymous sign-in failed")
		return nil
	}

	b.current.Set(s)
	return s
}

// Current returns the tracked session, or nil when there is none. An expired
// session is dropped, which watchers see as a change to nil.
func (b *Bootstrap) Current() *Session {
	s := b.current.Get()
	if s == nil || !s.Expired(b.now()) {
		return s
	}

	b.current.Update(func(cur *Session) (*Session, bool) {
		return nil, cur == s
	})
	log.Debug().Str("uid", s.UID).Msg("session expired")

	return nil
}

func (b *Bootstrap) now() time.Time {
	if c, ok := b.provider.(Clock); ok {
		return c.Now()
	}
	return time.Now()
}

// Session is the reactive handle on the current session.
func (b *Bootstrap) Session() *reactive.Value[*Session] {
	return b.current
}

// Close stops tracking the provider.
func (b *Bootstrap) Close() {
	b.stopWatchMu.Lock()
	defer b.stopWatchMu.Unlock()

	if b.stopWatch != nil {
		b.stopWatch()
		b.stopWatch = nil
	}
}
