package main

import (
	"context"
	"net/http"

	"github.com/Seednode/minigames/identity"
	"github.com/Seednode/minigames/leaderboard"
)

const sessionCookieName = "minigames_session"

// visitor is the identity of one browser for the span of a request or a
// websocket connection.
type visitor struct {
	boot   *identity.Bootstrap
	client *leaderboard.Client

	// cookie is set when the visitor needs a new session cookie.
	cookie *http.Cookie
}

func (v *visitor) Close() {
	v.boot.Close()
}

// newVisitor restores the visitor's session from its cookie, or signs it in
// anonymously when the cookie is missing or no longer valid.
func (s *server) newVisitor(ctx context.Context, r *http.Request) *visitor {
	var token string
	if c, err := r.Cookie(sessionCookieName); err == nil {
		token = c.Value
	}

	boot := identity.NewBootstrap(identity.NewAuth(s.issuer), identity.WithInitialToken(token))
	session := boot.Initialize(ctx)

	v := &visitor{
		boot:   boot,
		client: leaderboard.NewClient(s.lbConfig, s.store, boot),
	}

	if session != nil && session.Token != token {
		v.cookie = &http.Cookie{
			Name:     sessionCookieName,
			Value:    session.Token,
			Path:     s.cfg.prefix + "/",
			Expires:  session.ExpiresAt,
			HttpOnly: true,
			Secure:   s.cfg.scheme() == "https",
			SameSite: http.SameSiteLaxMode,
		}
	}

	return v
}

func (v *visitor) setCookie(w http.ResponseWriter) {
	if v.cookie != nil {
		http.SetCookie(w, v.cookie)
	}
}
