/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package reactive provides observable state cells shared between the
// leaderboard synchronizer and whatever renders it.
package reactive

import "sync"

// Value holds a single value and notifies watchers whenever it is set.
// Values handed out by Get are shared; callers must not mutate them.
type Value[T any] struct {
	mu       sync.RWMutex
	v        T
	watchers map[uint64]func(T)
	next     uint64
}

func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		v:        initial,
		watchers: make(map[uint64]func(T)),
	}
}

func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return v.v
}

// Set stores x and calls every watcher with it. Watchers run on the
// caller's goroutine, outside the lock.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	v.v = x
	fns := make([]func(T), 0, len(v.watchers))
	for _, fn := range v.watchers {
		fns = append(fns, fn)
	}
	v.mu.Unlock()

	for _, fn := range fns {
		fn(x)
	}
}

// Update replaces the value with fn's result when fn reports a change, and
// notifies watchers only then. fn runs under the lock.
func (v *Value[T]) Update(fn func(T) (T, bool)) bool {
	v.mu.Lock()
	next, changed := fn(v.v)
	if !changed {
		v.mu.Unlock()
		return false
	}
	v.v = next
	fns := make([]func(T), 0, len(v.watchers))
	for _, w := range v.watchers {
		fns = append(fns, w)
	}
	v.mu.Unlock()

	for _, w := range fns {
		w(next)
	}
	return true
}

// Watch registers fn for future changes. The returned cancel func is safe to
// call more than once.
func (v *Value[T]) Watch(fn func(T)) (cancel func()) {
	v.mu.Lock()
	id := v.next
	v.next++
	v.watchers[id] = fn
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.watchers, id)
			v.mu.Unlock()
		})
	}
}
