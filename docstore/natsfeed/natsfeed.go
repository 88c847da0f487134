// Package natsfeed carries docstore change notifications over NATS subjects,
// so several server processes sharing one backend see each other's writes.
package natsfeed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Seednode/minigames/docstore"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "docstore.changes",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

type watch struct {
	sub     *nats.Subscription
	notify  func()
	onError func(error)
}

type Feed struct {
	nc     *nats.Conn
	config Config

	mu      sync.Mutex
	watches map[*nats.Subscription]*watch
}

var _ docstore.Feed = (*Feed)(nil)

func New(config Config) (*Feed, error) {
	f := &Feed{
		config:  config,
		watches: make(map[*nats.Subscription]*watch),
	}

	opts := []nats.Option{
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			// Changes published while disconnected were missed.
			f.refreshAll()
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
			f.fail(sub, err)
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	f.nc = nc

	return f, nil
}

// Subject maps a collection path onto a NATS subject, one token per path
// segment.
func Subject(prefix, collection string) string {
	segments := strings.Split(collection, "/")
	tokens := make([]string, 0, len(segments)+1)
	if prefix != "" {
		tokens = append(tokens, prefix)
	}
	for _, s := range segments {
		tokens = append(tokens, sanitizeToken(s))
	}
	return strings.Join(tokens, ".")
}

func sanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}

func (f *Feed) Publish(_ context.Context, collection string) error {
	return f.nc.Publish(Subject(f.config.SubjectPrefix, collection), []byte(collection))
}

func (f *Feed) Watch(collection string, notify func(), onError func(error)) (func(), error) {
	subject := Subject(f.config.SubjectPrefix, collection)

	sub, err := f.nc.Subscribe(subject, func(m *nats.Msg) {
		// Sanitized subjects may collide; the payload carries the real path.
		if string(m.Data) == collection {
			notify()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	// Flush waits for the server to register the subscription, so changes
	// published after Watch returns are not missed.
	if err := f.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	f.mu.Lock()
	f.watches[sub] = &watch{sub: sub, notify: notify, onError: onError}
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.watches, sub)
			f.mu.Unlock()

			if err := sub.Unsubscribe(); err != nil {
				log.Debug().Err(err).Str("subject", subject).Msg("unsubscribe")
			}
		})
	}, nil
}

func (f *Feed) refreshAll() {
	f.mu.Lock()
	targets := make([]func(), 0, len(f.watches))
	for _, w := range f.watches {
		targets = append(targets, w.notify)
	}
	f.mu.Unlock()

	for _, notify := range targets {
		notify()
	}
}

func (f *Feed) fail(sub *nats.Subscription, err error) {
	if sub == nil {
		return
	}

	f.mu.Lock()
	w, ok := f.watches[sub]
	f.mu.Unlock()

	if ok && w.onError != nil {
		w.onError(err)
	}
}

func (f *Feed) Close() error {
	if f.nc == nil {
		return nil
	}
	if err := f.nc.Drain(); err != nil {
		f.nc.Close()
		return err
	}
	return nil
}
