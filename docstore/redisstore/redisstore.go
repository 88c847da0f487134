// Package redisstore keeps documents in Redis hashes and carries change
// notifications over Redis pub/sub.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Seednode/minigames/docstore"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultPrefix = "minigames"

type Options struct {
	Addr     string
	Password string
	DB       int
}

func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// envelope is the stored JSON form of a document.
type envelope struct {
	CreateTime time.Time       `json:"createTime"`
	Fields     docstore.Fields `json:"fields"`
}

func documentKey(prefix, collection string) string {
	return prefix + ":docs:" + collection
}

func changeChannel(prefix, collection string) string {
	return prefix + ":changes:" + collection
}

func encodeDocument(doc docstore.Document) ([]byte, error) {
	return json.Marshal(envelope{CreateTime: doc.CreateTime, Fields: doc.Fields})
}

func decodeDocument(id string, raw []byte) (docstore.Document, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return docstore.Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	if env.Fields == nil {
		env.Fields = docstore.Fields{}
	}
	return docstore.Document{ID: id, Fields: env.Fields, CreateTime: env.CreateTime}, nil
}

// Backend stores each collection as one hash keyed by document ID. The
// client is owned by the caller.
type Backend struct {
	client *redis.Client
	prefix string
}

var _ docstore.Backend = (*Backend)(nil)

func NewBackend(client *redis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) Insert(ctx context.Context, collection string, doc docstore.Document) error {
	raw, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	set, err := b.client.HSetNX(ctx, documentKey(b.prefix, collection), doc.ID, raw).Result()
	if err != nil {
		return err
	}
	if !set {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, collection string) ([]docstore.Document, error) {
	all, err := b.client.HGetAll(ctx, documentKey(b.prefix, collection)).Result()
	if err != nil {
		return nil, err
	}

	docs := make([]docstore.Document, 0, len(all))
	for id, raw := range all {
		doc, err := decodeDocument(id, []byte(raw))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreateTime.Equal(docs[j].CreateTime) {
			return docs[i].CreateTime.Before(docs[j].CreateTime)
		}
		return docs[i].ID < docs[j].ID
	})

	return docs, nil
}

func (b *Backend) Close() error {
	return nil
}

// Feed publishes one message per change on a per-collection channel.
type Feed struct {
	client *redis.Client
	prefix string

	mu      sync.Mutex
	pubsubs map[*redis.PubSub]struct{}
}

var _ docstore.Feed = (*Feed)(nil)

func NewFeed(client *redis.Client, prefix string) *Feed {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Feed{
		client:  client,
		prefix:  prefix,
		pubsubs: make(map[*redis.PubSub]struct{}),
	}
}

func (f *Feed) Publish(ctx context.Context, collection string) error {
	return f.client.Publish(ctx, changeChannel(f.prefix, collection), collection).Err()
}

// Watch subscribes to the collection's channel. go-redis reconnects dropped
// subscriptions on its own, so onError is not used.
func (f *Feed) Watch(collection string, notify func(), _ func(error)) (func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	channel := changeChannel(f.prefix, collection)
	ps := f.client.Subscribe(ctx, channel)

	// Receive blocks until the subscription is confirmed, surfacing
	// connection errors to the caller.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	f.mu.Lock()
	f.pubsubs[ps] = struct{}{}
	f.mu.Unlock()

	go func() {
		for range ps.Channel() {
			notify()
		}
		log.Debug().Str("channel", channel).Msg("redis subscription closed")
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.pubsubs, ps)
			f.mu.Unlock()

			if err := ps.Close(); err != nil {
				log.Debug().Err(err).Str("channel", channel).Msg("closing redis subscription")
			}
		})
	}, nil
}

func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for ps := range f.pubsubs {
		_ = ps.Close()
		delete(f.pubsubs, ps)
	}
	return nil
}
