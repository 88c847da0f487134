package fakestore

import (
	"context"
	"strconv"
	"sync"

	"github.com/Seednode/minigames/docstore"
)

var _ docstore.Store = (*FakeStore)(nil)

// Insert is a recorded Insert call.
type Insert struct {
	Ref    docstore.Ref
	Fields docstore.Fields
}

type subscription struct {
	ref     docstore.Ref
	onData  func(docstore.Snapshot)
	onError func(error)
}

// FakeStore records calls and lets tests push snapshots and errors to open
// subscriptions synchronously.
type FakeStore struct {
	InsertErr    error
	SubscribeErr error

	lock          sync.Mutex
	inserts       []Insert
	insertCalls   int
	subscribes    int
	cancels       int
	subscriptions map[int]*subscription
	nextID        int
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		subscriptions: make(map[int]*subscription),
	}
}

func (fs *FakeStore) Insert(_ context.Context, ref docstore.Ref, fields docstore.Fields) (string, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	fs.insertCalls++
	if fs.InsertErr != nil {
		return "", fs.InsertErr
	}

	fs.nextID++
	fs.inserts = append(fs.inserts, Insert{Ref: ref, Fields: fields})
	return "doc-" + strconv.Itoa(fs.nextID), nil
}

func (fs *FakeStore) Subscribe(ref docstore.Ref, onData func(docstore.Snapshot), onError func(error)) (func(), error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	fs.subscribes++
	if fs.SubscribeErr != nil {
		return nil, fs.SubscribeErr
	}

	fs.nextID++
	id := fs.nextID
	fs.subscriptions[id] = &subscription{ref: ref, onData: onData, onError: onError}

	var once sync.Once
	return func() {
		once.Do(func() {
			fs.lock.Lock()
			defer fs.lock.Unlock()

			fs.cancels++
			delete(fs.subscriptions, id)
		})
	}, nil
}

func (fs *FakeStore) Close() error {
	return nil
}

// Emit delivers docs to every open subscription.
func (fs *FakeStore) Emit(docs ...docstore.Document) {
	snap := docstore.Snapshot{Docs: docs}
	for _, s := range fs.open() {
		s.onData(snap)
	}
}

// Fail delivers err to every open subscription.
func (fs *FakeStore) Fail(err error) {
	for _, s := range fs.open() {
		if s.onError != nil {
			s.onError(err)
		}
	}
}

func (fs *FakeStore) open() []*subscription {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	subs := make([]*subscription, 0, len(fs.subscriptions))
	for _, s := range fs.subscriptions {
		subs = append(subs, s)
	}
	return subs
}

func (fs *FakeStore) Inserts() []Insert {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return append([]Insert(nil), fs.inserts...)
}

// Calls is the number of Insert and Subscribe attempts, failed ones included.
func (fs *FakeStore) Calls() int {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return fs.insertCalls + fs.subscribes
}

func (fs *FakeStore) Subscribes() int {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return fs.subscribes
}

func (fs *FakeStore) Cancels() int {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return fs.cancels
}

func (fs *FakeStore) Open() int {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	return len(fs.subscriptions)
}

// Refs returns the refs of open subscriptions.
func (fs *FakeStore) Refs() []docstore.Ref {
	var refs []docstore.Ref
	for _, s := range fs.open() {
		refs = append(refs, s.ref)
	}
	return refs
}
