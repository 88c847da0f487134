/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"embed"
	"fmt"
	"html"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
)

//go:embed assets/*
var assets embed.FS

func pageHead(cfg *Config, title string) string {
	var b strings.Builder

	b.WriteString(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
	b.WriteString(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
	b.WriteString(getFavicon(cfg))
	b.WriteString(fmt.Sprintf(`<link rel="stylesheet" href="%s/assets/app.css">`, cfg.prefix))
	b.WriteString(fmt.Sprintf("<title>%s</title></head>", html.EscapeString(title)))

	return b.String()
}

func serveHomePage(cfg *Config, catalog *Catalog, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var b strings.Builder

		b.WriteString(pageHead(cfg, "Mini-Games"))
		b.WriteString(`<body><main class="home"><h1>Mini-Games</h1><ul class="catalog">`)
		for _, g := range catalog.Games() {
			b.WriteString(fmt.Sprintf(`<li><a href="%s/games/%s"><strong>%s</strong><span>%s</span></a></li>`,
				cfg.prefix,
				g.ID,
				html.EscapeString(g.Name),
				html.EscapeString(g.Description)))
		}
		b.WriteString(`</ul></main></body></html>`)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		written, err := w.Write([]byte(b.String()))
		if err != nil {
			errs <- err

			return
		}

		served("home", written, r, startTime)
	}
}

func serveGamePage(cfg *Config, catalog *Catalog, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		game, err := catalog.Lookup(p.ByName("game"))
		if err != nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			securityHeaders(cfg, w)
			w.WriteHeader(http.StatusNotFound)

			_, _ = w.Write([]byte(newPage("Not Found", "No such game.")))

			return
		}

		var b strings.Builder

		b.WriteString(pageHead(cfg, game.Name))
		b.WriteString(fmt.Sprintf(`<body><main class="game" data-game="%s" data-prefix="%s">`,
			html.EscapeString(game.ID),
			html.EscapeString(cfg.prefix)))
		b.WriteString(fmt.Sprintf(`<h1>%s</h1><p>%s</p>`, html.EscapeString(game.Name), html.EscapeString(game.Description)))
		if game.Scoring != "" {
			b.WriteString(fmt.Sprintf(`<p class="scoring">%s</p>`, html.EscapeString(game.Scoring)))
		}
		b.WriteString(`<form id="submit"><input name="name" placeholder="Your name" maxlength="32">`)
		b.WriteString(`<input name="score" type="number" step="any" required><button>Save score</button></form>`)
		b.WriteString(`<p id="status" role="status"></p><ol id="leaderboard"></ol>`)
		b.WriteString(fmt.Sprintf(`<img class="qr" alt="Share this game" src="%s/games/%s/qr">`, cfg.prefix, game.ID))
		b.WriteString(fmt.Sprintf(`<a href="%s/">All games</a></main>`, cfg.prefix))
		b.WriteString(fmt.Sprintf(`<script src="%s/assets/app.js"></script></body></html>`, cfg.prefix))

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)

		written, err := w.Write([]byte(b.String()))
		if err != nil {
			errs <- err

			return
		}

		served("game "+game.ID, written, r, startTime)
	}
}

func serveHealthCheck(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		_, err := w.Write([]byte("Ok\n"))
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveAssets(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		fname := path.Join("assets", path.Clean("/"+p.ByName("asset")))

		data, err := assets.ReadFile(fname)
		if err != nil {
			http.NotFound(w, r)

			return
		}

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		switch strings.ToLower(path.Ext(fname)) {
		case ".css":
			w.Header().Set("Content-Type", "text/css; charset=utf-8")
		case ".js":
			w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		case ".svg":
			w.Header().Set("Content-Type", "image/svg+xml")
		}

		_, err = w.Write(data)
		if err != nil {
			errs <- err

			return
		}
	}
}

func serveRobots(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		data := `User-agent: Amazonbot
Disallow: /

User-agent: Applebot-Extended
Disallow: /

User-agent: Bytespider
Disallow: /

User-agent: CCBot
Disallow: /

User-agent: ClaudeBot
Disallow: /

User-agent: Google-Extended
Disallow: /

User-agent: GPTBot
Disallow: /

User-agent: meta-externalagent
Disallow: /`

		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		securityHeaders(cfg, w)

		_, err := w.Write([]byte(data))
		if err != nil {
			errs <- err

			return
		}
	}
}
