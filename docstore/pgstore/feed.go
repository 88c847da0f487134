package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Seednode/minigames/docstore"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type FeedConfig struct {
	DatabaseURL   string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel string        // Channel name to LISTEN on
	PingInterval  time.Duration // How often to check the listener connection
}

func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		NotifyChannel: "docstore_changes",
		PingInterval:  90 * time.Second,
	}
}

type watch struct {
	notify  func()
	onError func(error)
}

// Feed sends one NOTIFY per change with the collection as payload and fans
// notifications out to local watchers.
type Feed struct {
	db       *sql.DB
	listener *pq.Listener
	cfg      FeedConfig

	mu      sync.Mutex
	watches map[string]map[uint64]watch
	next    uint64

	done chan struct{}
	wg   sync.WaitGroup
}

var _ docstore.Feed = (*Feed)(nil)

func NewFeed(cfg FeedConfig) (*Feed, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}

	f := &Feed{
		db:      db,
		cfg:     cfg,
		watches: make(map[string]map[uint64]watch),
		done:    make(chan struct{}),
	}

	f.listener = pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		f.listenerEvent,
	)
	if err := f.listener.Listen(cfg.NotifyChannel); err != nil {
		_ = f.listener.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	f.wg.Add(1)
	go f.run()

	return f, nil
}

func (f *Feed) listenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventDisconnected, pq.ListenerEventConnectionAttemptFailed:
		if err != nil {
			log.Error().Err(err).Msg("listener event")
			f.broadcastError(fmt.Errorf("change feed disconnected: %w", err))
		}
	case pq.ListenerEventReconnected:
		// Notifications sent while disconnected are lost; refresh everyone.
		f.refreshAll()
	}
}

func (f *Feed) run() {
	defer f.wg.Done()

	ping := time.NewTicker(f.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-f.done:
			return
		case note := <-f.listener.Notify:
			if note == nil {
				// nil notification means the connection was re-established
				continue
			}
			f.dispatch(note.Extra)
		case <-ping.C:
			if err := f.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (f *Feed) dispatch(collection string) {
	f.mu.Lock()
	targets := make([]func(), 0, len(f.watches[collection]))
	for _, w := range f.watches[collection] {
		targets = append(targets, w.notify)
	}
	f.mu.Unlock()

	for _, notify := range targets {
		notify()
	}
}

func (f *Feed) refreshAll() {
	f.mu.Lock()
	var targets []func()
	for _, ws := range f.watches {
		for _, w := range ws {
			targets = append(targets, w.notify)
		}
	}
	f.mu.Unlock()

	for _, notify := range targets {
		notify()
	}
}

func (f *Feed) broadcastError(err error) {
	f.mu.Lock()
	var targets []func(error)
	for _, ws := range f.watches {
		for _, w := range ws {
			if w.onError != nil {
				targets = append(targets, w.onError)
			}
		}
	}
	f.mu.Unlock()

	for _, onError := range targets {
		onError(err)
	}
}

func (f *Feed) Publish(ctx context.Context, collection string) error {
	_, err := f.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, f.cfg.NotifyChannel, collection)
	return err
}

func (f *Feed) Watch(collection string, notify func(), onError func(error)) (func(), error) {
	select {
	case <-f.done:
		return nil, docstore.ErrClosed
	default:
	}

	f.mu.Lock()
	id := f.next
	f.next++
	if f.watches[collection] == nil {
		f.watches[collection] = make(map[uint64]watch)
	}
	f.watches[collection][id] = watch{notify: notify, onError: onError}
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()

		delete(f.watches[collection], id)
		if len(f.watches[collection]) == 0 {
			delete(f.watches, collection)
		}
	}, nil
}

func (f *Feed) Close() error {
	select {
	case <-f.done:
		return nil
	default:
		close(f.done)
	}
	f.wg.Wait()

	return errors.Join(f.listener.Close(), f.db.Close())
}
