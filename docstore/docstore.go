/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package docstore is a small document store with live collection
// snapshots. Documents are append-only field maps grouped into collections
// addressed by slash-separated paths.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrClosed     = errors.New("docstore: store is closed")
	ErrInvalidRef = errors.New("docstore: invalid collection reference")
)

// Fields is the content of a document.
type Fields map[string]any

type Document struct {
	ID         string
	Fields     Fields
	CreateTime time.Time
}

// Snapshot is the full current content of a collection.
type Snapshot struct {
	Docs []Document
}

// Ref addresses a collection.
type Ref struct {
	segments []string
}

// Collection builds a reference from path segments. Segments must be
// non-empty and must not contain a slash.
func Collection(segments ...string) Ref {
	return Ref{segments: append([]string(nil), segments...)}
}

func (r Ref) Valid() bool {
	if len(r.segments) == 0 {
		return false
	}
	for _, s := range r.segments {
		if s == "" || strings.Contains(s, "/") {
			return false
		}
	}
	return true
}

func (r Ref) Path() string {
	return strings.Join(r.segments, "/")
}

// ID is the last path segment.
func (r Ref) ID() string {
	if len(r.segments) == 0 {
		return ""
	}
	return r.segments[len(r.segments)-1]
}

type serverTimestamp struct{}

// ServerTimestamp is a field value replaced by the store's clock at insert.
var ServerTimestamp any = serverTimestamp{}

func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Store is the contract consumed by the leaderboard.
type Store interface {
	// Insert appends a new document and returns its ID.
	Insert(ctx context.Context, ref Ref, fields Fields) (string, error)

	// Subscribe delivers the full collection on open and after every change
	// until cancel is called. Cancel is idempotent.
	Subscribe(ref Ref, onData func(Snapshot), onError func(error)) (cancel func(), err error)

	Close() error
}
