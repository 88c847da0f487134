package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/minigames/docstore"
	"github.com/Seednode/minigames/identity"
	"github.com/Seednode/minigames/leaderboard"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

const (
	logDate string        = `2006-01-02T15:04:05.000-07:00`
	timeout time.Duration = 10 * time.Second
)

type server struct {
	cfg      *Config
	catalog  *Catalog
	store    docstore.Store
	issuer   *identity.Issuer
	lbConfig leaderboard.Config

	// ctx ends live connections on shutdown.
	ctx  context.Context
	errs chan error
}

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

var sizeUnits = []string{"kB", "MB", "GB", "TB", "PB", "EB"}

// formatSize renders a response size in SI units, e.g. "1.5 kB".
func formatSize(n int64) string {
	if n < 1000 {
		return strconv.FormatInt(n, 10) + " B"
	}

	size := float64(n) / 1000
	unit := 0
	for size >= 1000 && unit < len(sizeUnits)-1 {
		size /= 1000
		unit++
	}

	return strconv.FormatFloat(size, 'f', 1, 64) + " " + sizeUnits[unit]
}

// served logs one completed response the way every handler reports it.
func served(page string, written int, r *http.Request, start time.Time) {
	log.Info().
		Str("page", page).
		Str("size", formatSize(int64(written))).
		Str("ip", realIP(r)).
		Dur("elapsed", time.Since(start).Round(time.Microsecond)).
		Msg("SERVE")
}

func serveVersion(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("minigames v" + releaseVersion + "\n"))
		if err != nil {
			errs <- err

			return
		}

		served("version", written, r, startTime)
	}
}

// drainErrors logs write failures reported by handlers until ctx ends.
func drainErrors(ctx context.Context, errs <-chan error) {
	for {
		select {
		case err := <-errs:
			log.Debug().Err(err).Msg("response write failed")
		case <-ctx.Done():
			return
		}
	}
}

func newServer(ctx context.Context, cfg *Config, catalog *Catalog, store docstore.Store, issuer *identity.Issuer, lbConfig leaderboard.Config) *server {
	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	return &server{
		cfg:      cfg,
		catalog:  catalog,
		store:    store,
		issuer:   issuer,
		lbConfig: lbConfig,
		ctx:      ctx,
		errs:     make(chan error, 64),
	}
}

func (s *server) routes() *httprouter.Router {
	cfg := s.cfg

	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		log.Error().Interface("panic", i).Str("path", r.URL.Path).Msg("handler panicked")

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		io.WriteString(w, newPage("Server Error", "An error has occurred. Please try again."))
	}

	mux.GET(cfg.prefix+"/", serveHomePage(cfg, s.catalog, s.errs))

	mux.GET(cfg.prefix+"/assets/*asset", serveAssets(cfg, s.errs))

	mux.GET(cfg.prefix+"/favicon.svg", serveFavicon(cfg, s.errs))

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, s.errs))

	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg, s.errs))

	mux.GET(cfg.prefix+"/version", serveVersion(cfg, s.errs))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	s.registerLeaderboards(mux)

	return mux
}

// handler wraps the router with CORS for the json api.
func (s *server) handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins:   s.cfg.corsOrigins,
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})

	return c.Handler(s.routes())
}

func ServePage(ctx context.Context, cfg *Config) error {
	var err error

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		time.Local, err = time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
	}

	displayBanner(cfg)

	log.Info().Str("version", releaseVersion).Msg("START")

	catalog, err := loadCatalog(cfg.games)
	if err != nil {
		return err
	}

	lbConfig := cfg.leaderboardConfig()

	store, err := openStore(ctx, cfg, lbConfig.Remote.ProjectID)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("closing document store")
		}
	}()

	issuer, err := newIssuer(cfg)
	if err != nil {
		return err
	}

	s := newServer(ctx, cfg, catalog, store, issuer, lbConfig)

	go drainErrors(ctx, s.errs)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           h2c.NewHandler(s.handler(), &http2.Server{}),
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	go func() {
		var err error
		log.Info().Msgf("Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}

// newIssuer signs sessions with the configured secret, or with a random one
// that invalidates every session on restart.
func newIssuer(cfg *Config) (*identity.Issuer, error) {
	secret := []byte(cfg.sessionSecret)
	if len(secret) == 0 {
		log.Warn().Msg("no session secret configured, sessions will not survive a restart")

		var err error
		secret, err = identity.RandomSecret()
		if err != nil {
			return nil, err
		}
	}

	return identity.NewIssuer(secret, identity.WithTTL(cfg.sessionTTL))
}
