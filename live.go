// Live leaderboard feed
//
// Each websocket on /api/leaderboard/:game/ws owns one visitor session and
// one board subscription. The server pushes the whole view whenever it
// settles, and the client may submit scores over the same socket.
//
// Messages:
// - server -> client: {"type":"leaderboard", ...view}
// - client -> server: {"type":"submit","name":"...","score":12,"extra":{...}}
// - server -> client: {"type":"submit_result","ok":true}

package main

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/Seednode/minigames/leaderboard"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type  string         `json:"type"` // "submit"
	Name  string         `json:"name,omitempty"`
	Score *float64       `json:"score,omitempty"`
	Extra map[string]any `json:"extra,omitempty"`
}

// LeaderboardMessage carries a full view, never a patch.
type LeaderboardMessage struct {
	Type string `json:"type"` // "leaderboard"
	leaderboard.View
}

type SubmitResultMessage struct {
	Type  string `json:"type"` // "submit_result"
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type liveClient struct {
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan any
	closed bool
}

// push queues msg, or drops the client when it cannot keep up.
func (c *liveClient) push(msg any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		log.Debug().Msg("live client too slow, disconnecting")
		c.closed = true
		close(c.send)
	}
}

func (c *liveClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *server) serveLive() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		game, err := s.catalog.Lookup(ps.ByName("game"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		v := s.newVisitor(r.Context(), r)
		defer v.Close()

		var header http.Header
		if v.cookie != nil {
			header = http.Header{"Set-Cookie": {v.cookie.String()}}
		}

		conn, err := upgrader.Upgrade(w, r, header)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}

		conn.SetReadLimit(maxRequestBody)

		client := &liveClient{
			conn: conn,
			send: make(chan any, 16),
		}

		board := v.client.Board(game.ID)

		pushView := func() {
			client.push(LeaderboardMessage{Type: "leaderboard", View: board.View()})
		}

		stopLoading := board.Loading().Watch(func(loading bool) {
			if !loading {
				pushView()
			}
		})
		stopError := board.Error().Watch(func(string) { pushView() })

		unsubscribe := board.Subscribe()

		defer func() {
			unsubscribe()
			stopLoading()
			stopError()
			client.close()
		}()

		pushView()

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-s.ctx.Done():
				_ = conn.Close()
			case <-done:
			}
		}()

		log.Info().Str("game", game.ID).Str("ip", realIP(r)).Msg("GAMES: live viewer connected")

		go client.writePump()
		client.readPump(s.ctx, board)
	}
}

func (c *liveClient) readPump(ctx context.Context, board *leaderboard.Board) {
	defer func() {
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "submit":
			if msg.Score == nil {
				c.push(SubmitResultMessage{Type: "submit_result", Error: "score is required"})
				continue
			}

			_, resp := submit(ctx, board, submitRequest{
				Name:  msg.Name,
				Score: msg.Score,
				Extra: msg.Extra,
			})

			c.push(SubmitResultMessage{Type: "submit_result", OK: resp.OK, Error: resp.Error})
		default:
			// ignore unknown types
		}
	}
}

func (c *liveClient) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// serveQR generates a PNG QR code pointing at the game page.
func (s *server) serveQR() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if _, err := s.catalog.Lookup(ps.ByName("game")); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		path := strings.TrimSuffix(r.URL.Path, "/qr")

		url := scheme + "://" + r.Host + path

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(s.cfg, w)
		if _, err := w.Write(png); err != nil {
			s.errs <- err
		}
	}
}
