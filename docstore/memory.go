package docstore

import (
	"context"
	"maps"
	"sync"
)

// MemoryBackend keeps documents in process memory.
type MemoryBackend struct {
	mu          sync.RWMutex
	collections map[string][]Document
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		collections: make(map[string][]Document),
	}
}

func (m *MemoryBackend) Insert(ctx context.Context, collection string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc.Fields = maps.Clone(doc.Fields)

	m.mu.Lock()
	m.collections[collection] = append(m.collections[collection], doc)
	m.mu.Unlock()

	return nil
}

func (m *MemoryBackend) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.collections[collection]
	docs := make([]Document, len(stored))
	for i, d := range stored {
		d.Fields = maps.Clone(d.Fields)
		docs[i] = d
	}
	return docs, nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

// MemoryFeed broadcasts changes to watchers in the same process.
type MemoryFeed struct {
	mu       sync.Mutex
	watchers map[string]map[uint64]func()
	next     uint64
}

var _ Feed = (*MemoryFeed)(nil)

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		watchers: make(map[string]map[uint64]func()),
	}
}

func (f *MemoryFeed) Publish(_ context.Context, collection string) error {
	f.mu.Lock()
	notify := make([]func(), 0, len(f.watchers[collection]))
	for _, fn := range f.watchers[collection] {
		notify = append(notify, fn)
	}
	f.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	return nil
}

func (f *MemoryFeed) Watch(collection string, notify func(), _ func(error)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	if f.watchers[collection] == nil {
		f.watchers[collection] = make(map[uint64]func())
	}
	f.watchers[collection][id] = notify

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()

		delete(f.watchers[collection], id)
		if len(f.watchers[collection]) == 0 {
			delete(f.watchers, collection)
		}
	}, nil
}

func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	f.watchers = make(map[string]map[uint64]func())
	f.mu.Unlock()

	return nil
}

// NewMemory returns a Live store that lives entirely in this process.
func NewMemory(opts ...Option) *Live {
	return New(NewMemoryBackend(), NewMemoryFeed(), opts...)
}
