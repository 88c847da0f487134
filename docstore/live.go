package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Backend persists documents. Collections are full store paths.
type Backend interface {
	Insert(ctx context.Context, collection string, doc Document) error

	// List returns every document in the collection, oldest first.
	List(ctx context.Context, collection string) ([]Document, error)

	Close() error
}

// Feed carries change notifications between writers and subscribers,
// possibly across processes.
type Feed interface {
	Publish(ctx context.Context, collection string) error

	// Watch calls notify for each change published to collection. Transport
	// failures are passed to onError; the watch stays registered.
	Watch(collection string, notify func(), onError func(error)) (cancel func(), err error)

	Close() error
}

type Option func(*Live)

func WithClock(clock clockwork.Clock) Option {
	return func(l *Live) {
		l.clock = clock
	}
}

// WithNamespace scopes every collection to a project.
func WithNamespace(ns string) Option {
	return func(l *Live) {
		l.namespace = ns
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(l *Live) {
		l.newID = fn
	}
}

// Live is a Store built from a Backend and a Feed. Every change notification
// is answered with a fresh List of the whole collection.
type Live struct {
	backend   Backend
	feed      Feed
	clock     clockwork.Clock
	namespace string
	newID     func() string

	// mu orders wg.Add in Subscribe against wg.Wait in Close.
	mu       sync.Mutex
	closed   bool
	shutdown context.CancelFunc
	root     context.Context
	wg       sync.WaitGroup
}

var _ Store = (*Live)(nil)

func New(backend Backend, feed Feed, opts ...Option) *Live {
	l := &Live{
		backend: backend,
		feed:    feed,
		clock:   clockwork.NewRealClock(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.root, l.shutdown = context.WithCancel(context.Background())
	return l
}

func (l *Live) path(ref Ref) string {
	if l.namespace == "" {
		return ref.Path()
	}
	return "projects/" + l.namespace + "/documents/" + ref.Path()
}

func (l *Live) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.closed
}

func (l *Live) Insert(ctx context.Context, ref Ref, fields Fields) (string, error) {
	if l.isClosed() {
		return "", ErrClosed
	}
	if !ref.Valid() {
		return "", ErrInvalidRef
	}

	now := l.clock.Now().UTC()
	doc := Document{
		ID:         l.newID(),
		Fields:     resolveServerTimestamps(fields, now),
		CreateTime: now,
	}

	collection := l.path(ref)
	if err := l.backend.Insert(ctx, collection, doc); err != nil {
		return "", fmt.Errorf("insert into %s: %w", collection, err)
	}

	// The document is stored; a lost notification only delays watchers
	// until the next change.
	if err := l.feed.Publish(ctx, collection); err != nil {
		log.Warn().Err(err).Str("collection", collection).Msg("change notification not published")
	}

	return doc.ID, nil
}

func (l *Live) Subscribe(ref Ref, onData func(Snapshot), onError func(error)) (func(), error) {
	if !ref.Valid() {
		return nil, ErrInvalidRef
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrClosed
	}
	l.wg.Add(1)
	l.mu.Unlock()

	collection := l.path(ref)
	ctx, stop := context.WithCancel(l.root)
	w := &watcher{
		wake: make(chan struct{}, 1),
		errs: make(chan error, 1),
	}

	cancelWatch, err := l.feed.Watch(collection, w.poke, w.fail)
	if err != nil {
		stop()
		l.wg.Done()
		return nil, fmt.Errorf("watch %s: %w", collection, err)
	}

	w.poke()

	go func() {
		defer l.wg.Done()
		w.run(ctx, l.backend, collection, onData, onError)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			stop()
			cancelWatch()
		})
	}, nil
}

// Close stops accepting work and releases the feed and backend. Open
// subscriptions stop delivering.
func (l *Live) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.shutdown()
	l.wg.Wait()
	return errors.Join(l.feed.Close(), l.backend.Close())
}

type watcher struct {
	wake chan struct{}
	errs chan error
}

// poke coalesces notifications; one pending refresh is enough because the
// refresh reads the whole collection.
func (w *watcher) poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) fail(err error) {
	select {
	case w.errs <- err:
	default:
	}
}

func (w *watcher) run(ctx context.Context, backend Backend, collection string, onData func(Snapshot), onError func(error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-w.errs:
			if ctx.Err() == nil && onError != nil {
				onError(err)
			}
		case <-w.wake:
			docs, err := backend.List(ctx, collection)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if onError != nil {
					onError(fmt.Errorf("list %s: %w", collection, err))
				}
				continue
			}
			onData(Snapshot{Docs: docs})
		}
	}
}

func resolveServerTimestamps(fields Fields, now time.Time) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		if IsServerTimestamp(v) {
			v = now
		}
		out[k] = v
	}
	return out
}
