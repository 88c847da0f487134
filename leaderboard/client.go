/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package leaderboard keeps per-game score views in sync with a document
// store and submits new scores to it.
package leaderboard

import (
	"context"

	"github.com/Seednode/minigames/docstore"
	"github.com/Seednode/minigames/identity"
	"github.com/Seednode/minigames/reactive"
)

// SessionSource supplies the session scores are attributed to.
// identity.Bootstrap satisfies it.
type SessionSource interface {
	Current() *identity.Session
	EnsureSession(ctx context.Context) *identity.Session
	Session() *reactive.Value[*identity.Session]
}

// Client binds a configuration, a store and a session source. Boards made
// from the same Client share all three.
type Client struct {
	cfg      Config
	store    docstore.Store
	sessions SessionSource
}

func NewClient(cfg Config, store docstore.Store, sessions SessionSource) *Client {
	if cfg.AppID == "" {
		cfg.AppID = DefaultAppID
	}

	return &Client{
		cfg:      cfg,
		store:    store,
		sessions: sessions,
	}
}

// Configured reports whether boards of this client may touch the store.
func (c *Client) Configured() bool {
	return c.cfg.Remote.Configured()
}

func (c *Client) AppID() string {
	return c.cfg.AppID
}

func (c *Client) CurrentSession() *reactive.Value[*identity.Session] {
	return c.sessions.Session()
}

// CollectionName is the last path segment of a game's collection.
func CollectionName(gameID string) string {
	return "leaderboard_" + gameID
}

// Ref addresses the score collection of gameID.
func (c *Client) Ref(gameID string) docstore.Ref {
	return docstore.Collection("artifacts", c.cfg.AppID, "public", "data", CollectionName(gameID))
}

// Board returns a fresh, unsubscribed board for gameID.
func (c *Client) Board(gameID string) *Board {
	return &Board{
		client:  c,
		gameID:  gameID,
		ref:     c.Ref(gameID),
		entries: reactive.NewValue[[]Entry](nil),
		loading: reactive.NewValue(false),
		err:     reactive.NewValue(""),
	}
}
