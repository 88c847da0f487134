package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Seednode/minigames/docstore"
	"github.com/Seednode/minigames/docstore/natsfeed"
	"github.com/Seednode/minigames/docstore/pgstore"
	"github.com/Seednode/minigames/docstore/redisstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// liveStore closes the connections it was built on after the store itself.
type liveStore struct {
	*docstore.Live

	closers []func() error
}

func (s *liveStore) Close() error {
	err := s.Live.Close()
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, s.closers[i]())
	}
	return err
}

func openStore(ctx context.Context, cfg *Config, namespace string) (docstore.Store, error) {
	var (
		backend docstore.Backend
		feed    docstore.Feed
		closers []func() error
		client  *redis.Client
	)

	fail := func(err error) (docstore.Store, error) {
		if feed != nil {
			_ = feed.Close()
		}
		if backend != nil {
			_ = backend.Close()
		}
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}

	redisClient := func() *redis.Client {
		if client == nil {
			client = redisstore.NewClient(redisstore.Options{
				Addr:     cfg.redisAddr,
				Password: cfg.redisPassword,
				DB:       cfg.redisDB,
			})
			closers = append(closers, client.Close)
		}
		return client
	}

	switch cfg.store {
	case "memory":
		backend = docstore.NewMemoryBackend()
	case "redis":
		c := redisClient()
		if err := c.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("connect to redis at %s: %w", cfg.redisAddr, err))
		}
		backend = redisstore.NewBackend(c, cfg.redisPrefix)
	case "postgres":
		b, err := pgstore.Open(ctx, cfg.postgresDSN)
		if err != nil {
			return fail(err)
		}
		backend = b
	default:
		return fail(fmt.Errorf("%w: %q", ErrInvalidStore, cfg.store))
	}

	switch cfg.resolvedFeed() {
	case "memory":
		feed = docstore.NewMemoryFeed()
	case "redis":
		feed = redisstore.NewFeed(redisClient(), cfg.redisPrefix)
	case "postgres":
		fc := pgstore.DefaultFeedConfig()
		fc.DatabaseURL = cfg.postgresDSN
		f, err := pgstore.NewFeed(fc)
		if err != nil {
			return fail(err)
		}
		feed = f
	case "nats":
		nc := natsfeed.DefaultConfig()
		nc.URL = cfg.natsURL
		f, err := natsfeed.New(nc)
		if err != nil {
			return fail(err)
		}
		feed = f
	default:
		return fail(fmt.Errorf("%w: %q", ErrInvalidFeed, cfg.feed))
	}

	log.Info().
		Str("store", cfg.store).
		Str("feed", cfg.resolvedFeed()).
		Msg("document store ready")

	return &liveStore{
		Live:    docstore.New(backend, feed, docstore.WithNamespace(namespace)),
		closers: closers,
	}, nil
}
