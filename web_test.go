package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/minigames/docstore"
	"github.com/Seednode/minigames/docstore/fakestore"
	"github.com/Seednode/minigames/identity"
	"github.com/Seednode/minigames/leaderboard"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var configuredBoards = leaderboard.Config{
	Remote: leaderboard.RemoteConfig{ProjectID: "arcade-test"},
	AppID:  "arcade",
}

func newTestServer(t *testing.T, store docstore.Store, lbConfig leaderboard.Config) *httptest.Server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	catalog, err := loadCatalog("")
	require.NoError(t, err)

	issuer, err := identity.NewIssuer([]byte("0123456789abcdef0123456789abcdef"), identity.WithTTL(time.Hour))
	require.NoError(t, err)

	cfg := &Config{
		corsOrigins: []string{"*"},
		sessionTTL:  time.Hour,
		store:       "memory",
	}

	s := newServer(ctx, cfg, catalog, store, issuer, lbConfig)
	go drainErrors(ctx, s.errs)

	ts := httptest.NewServer(s.handler())
	t.Cleanup(ts.Close)

	return ts
}

func newMemoryServer(t *testing.T, lbConfig leaderboard.Config) *httptest.Server {
	t.Helper()

	store := docstore.NewMemory()
	t.Cleanup(func() { _ = store.Close() })

	return newTestServer(t, store, lbConfig)
}

func newJarClient(t *testing.T) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

func get(t *testing.T, c *http.Client, url string) (*http.Response, string) {
	t.Helper()

	res, err := c.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	return res, string(body)
}

func postScore(t *testing.T, c *http.Client, url, body string) (int, submitResponse) {
	t.Helper()

	res, err := c.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()

	var resp submitResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))

	return res.StatusCode, resp
}

func TestStaticPages(t *testing.T) {
	ts := newMemoryServer(t, configuredBoards)
	c := ts.Client()

	res, body := get(t, c, ts.URL+"/")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, body, "Tic-Tac-Toe")
	require.Contains(t, body, `href="/games/snake"`)
	require.Equal(t, "default-src 'self'", res.Header.Get("Content-Security-Policy"))

	res, body = get(t, c, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "Ok\n", body)

	_, body = get(t, c, ts.URL+"/version")
	require.Equal(t, "minigames v"+releaseVersion+"\n", body)

	_, body = get(t, c, ts.URL+"/robots.txt")
	require.Contains(t, body, "User-agent: GPTBot")

	res, body = get(t, c, ts.URL+"/assets/app.js")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "text/javascript; charset=utf-8", res.Header.Get("Content-Type"))
	require.Contains(t, body, "/api/leaderboard/")

	res, _ = get(t, c, ts.URL+"/assets/../games.go")
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = get(t, c, ts.URL+"/favicon.svg")
	require.Equal(t, "image/svg+xml", res.Header.Get("Content-Type"))
}

func TestGamePages(t *testing.T) {
	ts := newMemoryServer(t, configuredBoards)
	c := ts.Client()

	res, body := get(t, c, ts.URL+"/games/reflex")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, body, `data-game="reflex"`)
	require.Contains(t, body, "Reflex Test")

	res, _ = get(t, c, ts.URL+"/games/pinball")
	require.Equal(t, http.StatusNotFound, res.StatusCode)

	res, body = get(t, c, ts.URL+"/games/reflex/qr")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "image/png", res.Header.Get("Content-Type"))
	require.True(t, strings.HasPrefix(body, "\x89PNG"))

	res, _ = get(t, c, ts.URL+"/games/pinball/qr")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestAPIGames(t *testing.T) {
	ts := newMemoryServer(t, configuredBoards)

	res, body := get(t, ts.Client(), ts.URL+"/api/games")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var games []Game
	require.NoError(t, json.Unmarshal([]byte(body), &games))
	require.NotEmpty(t, games)
	require.Equal(t, "morpion", games[0].ID)
}

func TestAPISession(t *testing.T) {
	ts := newMemoryServer(t, configuredBoards)
	c := newJarClient(t)

	res, body := get(t, c, ts.URL+"/api/session")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var first sessionResponse
	require.NoError(t, json.Unmarshal([]byte(body), &first))
	require.NotEmpty(t, first.UID)
	require.True(t, first.Anonymous)

	var cookie *http.Cookie
	for _, ck := range res.Cookies() {
		if ck.Name == sessionCookieName {
			cookie = ck
		}
	}
	require.NotNil(t, cookie)
	require.True(t, cookie.HttpOnly)

	res, body = get(t, c, ts.URL+"/api/session")
	var second sessionResponse
	require.NoError(t, json.Unmarshal([]byte(body), &second))
	require.Equal(t, first.UID, second.UID)
	require.Empty(t, res.Cookies())
}

func TestAPISession_ForgedCookie(t *testing.T) {
	ts := newMemoryServer(t, configuredBoards)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/session", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "forged"})

	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NotEmpty(t, res.Cookies())
	require.NotEqual(t, "forged", res.Cookies()[0].Value)
}

func TestAPILeaderboard_SubmitThenRead(t *testing.T) {
	ts := newMemoryServer(t, configuredBoards)
	c := newJarClient(t)

	status, resp := postScore(t, c, ts.URL+"/api/leaderboard/snake", `{"name":"Alice","score":12,"extra":{"length":12}}`)
	require.Equal(t, http.StatusCreated, status)
	require.True(t, resp.OK)

	status, _ = postScore(t, c, ts.URL+"/api/leaderboard/snake", `{"score":30}`)
	require.Equal(t, http.StatusCreated, status)

	_, session := get(t, c, ts.URL+"/api/session")
	var sess sessionResponse
	require.NoError(t, json.Unmarshal([]byte(session), &sess))

	res, body := get(t, c, ts.URL+"/api/leaderboard/snake")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var view leaderboard.View
	require.NoError(t, json.Unmarshal([]byte(body), &view))
	require.Equal(t, "snake", view.Game)
	require.True(t, view.Available)
	require.False(t, view.Loading)
	require.Empty(t, view.Error)
	require.Len(t, view.Entries, 2)

	require.Equal(t, leaderboard.DefaultPlayerName, view.Entries[0].PlayerName)
	require.Equal(t, 30.0, view.Entries[0].Score)
	require.Equal(t, "Alice", view.Entries[1].PlayerName)
	require.Equal(t, sess.UID, view.Entries[1].UserID)
	require.Equal(t, 12.0, view.Entries[1].Extra["length"])

	_, body = get(t, c, ts.URL+"/api/leaderboard/chess")
	require.NoError(t, json.Unmarshal([]byte(body), &view))
	require.Empty(t, view.Entries)
}

func TestAPILeaderboard_Unconfigured(t *testing.T) {
	ts := newMemoryServer(t, leaderboard.Config{Remote: leaderboard.PlaceholderConfig()})
	c := newJarClient(t)

	status, resp := postScore(t, c, ts.URL+"/api/leaderboard/snake", `{"name":"Alice","score":12}`)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.False(t, resp.OK)

	_, body := get(t, c, ts.URL+"/api/leaderboard/snake")
	var view leaderboard.View
	require.NoError(t, json.Unmarshal([]byte(body), &view))
	require.False(t, view.Available)
	require.Empty(t, view.Entries)
}

func TestAPILeaderboard_BadRequests(t *testing.T) {
	ts := newMemoryServer(t, configuredBoards)
	c := ts.Client()

	status, _ := postScore(t, c, ts.URL+"/api/leaderboard/snake", `{"name":"Alice"}`)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = postScore(t, c, ts.URL+"/api/leaderboard/snake", `not json`)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = postScore(t, c, ts.URL+"/api/leaderboard/pinball", `{"score":1}`)
	require.Equal(t, http.StatusNotFound, status)

	res, _ := get(t, c, ts.URL+"/api/leaderboard/pinball")
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestAPILeaderboard_StoreFailure(t *testing.T) {
	store := fakestore.NewFakeStore()
	store.InsertErr = errors.New("backend down")
	ts := newTestServer(t, store, configuredBoards)

	status, resp := postScore(t, ts.Client(), ts.URL+"/api/leaderboard/snake", `{"score":1}`)
	require.Equal(t, http.StatusBadGateway, status)
	require.Equal(t, leaderboard.SaveError, resp.Error)
}

func TestAPILeaderboard_ReadFailure(t *testing.T) {
	store := fakestore.NewFakeStore()
	store.SubscribeErr = errors.New("backend down")
	ts := newTestServer(t, store, configuredBoards)

	res, body := get(t, ts.Client(), ts.URL+"/api/leaderboard/snake")
	require.Equal(t, http.StatusOK, res.StatusCode)

	var view leaderboard.View
	require.NoError(t, json.Unmarshal([]byte(body), &view))
	require.False(t, view.Loading)
	require.Empty(t, view.Entries)
}

func TestCORS(t *testing.T) {
	ts := newMemoryServer(t, configuredBoards)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/leaderboard/snake", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}

func readLive(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func TestLiveLeaderboard(t *testing.T) {
	ts := newMemoryServer(t, configuredBoards)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/leaderboard/memory/ws"
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NotEmpty(t, res.Header.Values("Set-Cookie"))

	initial := readLive(t, conn, func(m map[string]any) bool {
		return m["type"] == "leaderboard" && m["loading"] == false
	})
	require.Equal(t, "memory", initial["game"])
	require.Equal(t, true, initial["available"])
	require.Empty(t, initial["entries"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "submit", Name: "Bob", Score: ptr(42.0)}))

	// The result and the refreshed view may arrive in either order.
	var result, updated map[string]any
	for result == nil || updated == nil {
		m := readLive(t, conn, func(map[string]any) bool { return true })
		entries, _ := m["entries"].([]any)
		switch {
		case m["type"] == "submit_result":
			result = m
		case m["type"] == "leaderboard" && len(entries) == 1:
			updated = m
		}
	}
	require.Equal(t, true, result["ok"])

	entry := updated["entries"].([]any)[0].(map[string]any)
	require.Equal(t, "Bob", entry["name"])
	require.Equal(t, 42.0, entry["score"])

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "submit"}))
	result = readLive(t, conn, func(m map[string]any) bool { return m["type"] == "submit_result" })
	require.Equal(t, false, result["ok"])
}

func TestLiveLeaderboard_SeesOtherClients(t *testing.T) {
	ts := newMemoryServer(t, configuredBoards)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/leaderboard/chess/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readLive(t, conn, func(m map[string]any) bool { return m["loading"] == false })

	status, _ := postScore(t, newJarClient(t), ts.URL+"/api/leaderboard/chess", `{"name":"Carol","score":3}`)
	require.Equal(t, http.StatusCreated, status)

	updated := readLive(t, conn, func(m map[string]any) bool {
		entries, _ := m["entries"].([]any)
		return len(entries) == 1
	})
	require.Equal(t, "Carol", updated["entries"].([]any)[0].(map[string]any)["name"])
}

func TestLiveLeaderboard_OversizedMessage(t *testing.T) {
	ts := newMemoryServer(t, configuredBoards)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/leaderboard/snake/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	readLive(t, conn, func(m map[string]any) bool { return m["loading"] == false })

	huge := ClientMessage{Type: "submit", Name: strings.Repeat("x", maxRequestBody), Score: ptr(1.0)}
	_ = conn.WriteJSON(huge)

	// The server drops the connection without answering.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]any
		err := conn.ReadJSON(&msg)
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) {
				require.False(t, netErr.Timeout(), "connection was not closed")
			}
			break
		}
		require.NotEqual(t, "submit_result", msg["type"])
	}

	res, body := get(t, ts.Client(), ts.URL+"/api/leaderboard/snake")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NotContains(t, body, "xxxx")
}

func TestLiveLeaderboard_UnknownGame(t *testing.T) {
	ts := newMemoryServer(t, configuredBoards)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/leaderboard/pinball/ws"
	_, res, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func ptr[T any](v T) *T {
	return &v
}

func TestFormatSize(t *testing.T) {
	for in, want := range map[int64]string{
		0:             "0 B",
		999:           "999 B",
		1000:          "1.0 kB",
		1500:          "1.5 kB",
		2_000_000:     "2.0 MB",
		3_500_000_000: "3.5 GB",
	} {
		require.Equal(t, want, formatSize(in), in)
	}
}
