package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Seednode/minigames/leaderboard"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
)

const maxRequestBody = 64 << 10

type sessionResponse struct {
	UID       string    `json:"uid"`
	Anonymous bool      `json:"anonymous"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type submitRequest struct {
	Name  string         `json:"name"`
	Score *float64       `json:"score"`
	Extra map[string]any `json:"extra,omitempty"`
}

type submitResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any, errs chan<- error) int {
	data, err := json.Marshal(v)
	if err != nil {
		errs <- err
		status = http.StatusInternalServerError
		data = []byte(`{"error":"internal error"}`)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	written, err := w.Write(append(data, '\n'))
	if err != nil {
		errs <- err
	}

	return written
}

func (s *server) serveGames() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		written := writeJSON(s.cfg, w, http.StatusOK, s.catalog.Games(), s.errs)

		served("api games", written, r, startTime)
	}
}

func (s *server) serveSession() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		v := s.newVisitor(r.Context(), r)
		defer v.Close()

		session := v.client.CurrentSession().Get()
		if session == nil {
			writeJSON(s.cfg, w, http.StatusServiceUnavailable, errorResponse{Error: "Unable to start a session."}, s.errs)

			return
		}

		v.setCookie(w)

		written := writeJSON(s.cfg, w, http.StatusOK, sessionResponse{
			UID:       session.UID,
			Anonymous: session.Anonymous,
			ExpiresAt: session.ExpiresAt,
		}, s.errs)

		served("api session", written, r, startTime)
	}
}

func (s *server) serveLeaderboard() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		game, err := s.catalog.Lookup(p.ByName("game"))
		if err != nil {
			writeJSON(s.cfg, w, http.StatusNotFound, errorResponse{Error: err.Error()}, s.errs)

			return
		}

		v := s.newVisitor(r.Context(), r)
		defer v.Close()
		v.setCookie(w)

		ctx, cancel := context.WithTimeout(r.Context(), timeout/2)
		defer cancel()

		view := v.client.Board(game.ID).Load(ctx)

		written := writeJSON(s.cfg, w, http.StatusOK, view, s.errs)

		served("api leaderboard "+game.ID, written, r, startTime)
	}
}

func decodeSubmit(r *http.Request, w http.ResponseWriter) (submitRequest, error) {
	var req submitRequest

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidScore, err)
	}
	if req.Score == nil {
		return req, fmt.Errorf("%w: score is required", ErrInvalidScore)
	}

	return req, nil
}

func (s *server) submitScore() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		game, err := s.catalog.Lookup(p.ByName("game"))
		if err != nil {
			writeJSON(s.cfg, w, http.StatusNotFound, submitResponse{Error: err.Error()}, s.errs)

			return
		}

		req, err := decodeSubmit(r, w)
		if err != nil {
			writeJSON(s.cfg, w, http.StatusBadRequest, submitResponse{Error: err.Error()}, s.errs)

			return
		}

		v := s.newVisitor(r.Context(), r)
		defer v.Close()
		v.setCookie(w)

		status, resp := submit(r.Context(), v.client.Board(game.ID), req)

		written := writeJSON(s.cfg, w, status, resp, s.errs)

		served("api submit "+game.ID, written, r, startTime)
	}
}

// submit is shared by the json api and the live socket.
func submit(ctx context.Context, board *leaderboard.Board, req submitRequest) (int, submitResponse) {
	if !board.Available() {
		return http.StatusServiceUnavailable, submitResponse{Error: "Leaderboards are not configured."}
	}

	if !board.Submit(ctx, req.Name, *req.Score, req.Extra) {
		msg := board.Error().Get()
		if msg == "" {
			msg = leaderboard.SaveError
		}
		return http.StatusBadGateway, submitResponse{Error: msg}
	}

	log.Info().Str("game", board.Game()).Str("name", req.Name).Float64("score", *req.Score).Msg("GAMES: score submitted")

	return http.StatusCreated, submitResponse{OK: true}
}

func (s *server) registerLeaderboards(mux *httprouter.Router) {
	prefix := s.cfg.prefix

	mux.GET(prefix+"/games/:game", serveGamePage(s.cfg, s.catalog, s.errs))
	mux.GET(prefix+"/games/:game/qr", s.serveQR())

	mux.GET(prefix+"/api/games", s.serveGames())
	mux.GET(prefix+"/api/session", s.serveSession())
	mux.GET(prefix+"/api/leaderboard/:game", s.serveLeaderboard())
	mux.POST(prefix+"/api/leaderboard/:game", s.submitScore())
	mux.GET(prefix+"/api/leaderboard/:game/ws", s.serveLive())
}
