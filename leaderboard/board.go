package leaderboard

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/Seednode/minigames/docstore"
	"github.com/Seednode/minigames/reactive"
	"github.com/rs/zerolog/log"
)

// User-facing error messages.
const (
	LoadError = "Unable to load the leaderboard."
	SaveError = "Unable to save the score."
)

// Board is the live view of one game's leaderboard.
type Board struct {
	client *Client
	gameID string
	ref    docstore.Ref

	entries *reactive.Value[[]Entry]
	loading *reactive.Value[bool]
	err     *reactive.Value[string]
}

// View is a point-in-time copy of a board's state.
type View struct {
	Game      string  `json:"game"`
	Available bool    `json:"available"`
	Loading   bool    `json:"loading"`
	Error     string  `json:"error,omitempty"`
	Entries   []Entry `json:"entries"`
}

func (b *Board) Game() string {
	return b.gameID
}

// Entries holds the ranked view. It is replaced as a whole on every
// snapshot; the slices it hands out must not be modified.
func (b *Board) Entries() *reactive.Value[[]Entry] {
	return b.entries
}

func (b *Board) Loading() *reactive.Value[bool] {
	return b.loading
}

// Error holds the last user-facing failure message, or "".
func (b *Board) Error() *reactive.Value[string] {
	return b.err
}

// Available reports whether the board may talk to the store at all.
func (b *Board) Available() bool {
	return b.client.Configured()
}

func (b *Board) View() View {
	entries := b.entries.Get()
	if entries == nil {
		entries = []Entry{}
	}

	return View{
		Game:      b.gameID,
		Available: b.Available(),
		Loading:   b.loading.Get(),
		Error:     b.err.Get(),
		Entries:   entries,
	}
}

// Subscribe starts live updates of the board. Without a usable config or an
// active session it does nothing and returns a no-op. The returned func
// stops updates and may be called any number of times.
func (b *Board) Subscribe() (unsubscribe func()) {
	if !b.client.Configured() {
		log.Warn().Str("game", b.gameID).Msg("leaderboard not configured, scores will not be loaded")
		return func() {}
	}

	if b.client.sessions.Current() == nil {
		log.Debug().Str("game", b.gameID).Msg("no session yet, leaderboard subscription skipped")
		return func() {}
	}

	b.loading.Set(true)

	var stopped atomic.Bool

	cancel, err := b.client.store.Subscribe(b.ref,
		func(snap docstore.Snapshot) {
			if stopped.Load() {
				return
			}
			b.apply(snap)
		},
		func(err error) {
			if stopped.Load() {
				return
			}
			log.Error().Err(err).Str("game", b.gameID).Msg("leaderboard read failed")
			b.err.Set(LoadError)
			b.loading.Set(false)
		})
	if err != nil {
		log.Error().Err(err).Str("game", b.gameID).Msg("could not open leaderboard subscription")
		b.loading.Set(false)
		return func() {}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			stopped.Store(true)
			cancel()
		})
	}
}

func (b *Board) apply(snap docstore.Snapshot) {
	entries := make([]Entry, 0, len(snap.Docs))
	for _, doc := range snap.Docs {
		entries = append(entries, entryFromDocument(doc))
	}

	b.entries.Set(rank(entries))
	b.loading.Set(false)
	if b.err.Get() != "" {
		b.err.Set("")
	}
}

// Submit writes a new score. It reports whether the store accepted it; on
// failure Error is set and the current entries are left untouched.
// Reserved field names in extra are ignored.
func (b *Board) Submit(ctx context.Context, name string, score float64, extra map[string]any) bool {
	if !b.client.Configured() {
		log.Warn().Str("game", b.gameID).Msg("leaderboard not configured, score not saved")
		return false
	}

	if math.IsNaN(score) || math.IsInf(score, 0) {
		log.Error().Float64("score", score).Str("game", b.gameID).Msg("refusing to save non-finite score")
		b.err.Set(SaveError)
		return false
	}

	s := b.client.sessions.Current()
	if s == nil {
		s = b.client.sessions.EnsureSession(ctx)
	}

	uid := AnonymousUserID
	if s != nil {
		uid = s.UID
	}

	if name == "" {
		name = DefaultPlayerName
	}

	fields := make(docstore.Fields, len(extra)+4)
	for k, v := range extra {
		if reserved(k) {
			continue
		}
		fields[k] = v
	}
	fields[FieldPlayerName] = name
	fields[FieldScore] = score
	fields[FieldUserID] = uid
	fields[FieldTimestamp] = docstore.ServerTimestamp

	id, err := b.client.store.Insert(ctx, b.ref, fields)
	if err != nil {
		log.Error().Err(err).Str("game", b.gameID).Msg("leaderboard write failed")
		b.err.Set(SaveError)
		return false
	}

	log.Debug().Str("game", b.gameID).Str("id", id).Float64("score", score).Msg("score saved")

	return true
}

// Load subscribes, waits until the first result or ctx is done, and
// returns the resulting view.
func (b *Board) Load(ctx context.Context) View {
	settled := make(chan struct{}, 1)
	stopWatch := b.loading.Watch(func(loading bool) {
		if loading {
			return
		}
		select {
		case settled <- struct{}{}:
		default:
		}
	})
	defer stopWatch()

	unsubscribe := b.Subscribe()
	defer unsubscribe()

	if b.loading.Get() {
		select {
		case <-settled:
		case <-ctx.Done():
		}
	}

	return b.View()
}
