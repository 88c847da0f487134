package pgstore

import (
	"errors"
	"sync"
	"testing"

	"github.com/Seednode/minigames/docstore"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

// recorder counts notifications and errors for one watch.
type recorder struct {
	mu       sync.Mutex
	notified int
	errs     []error
}

func (r *recorder) notify() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified++
}

func (r *recorder) onError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notified, len(r.errs)
}

// newLocalFeed is a feed without a database: notifications are injected
// through dispatch and listenerEvent.
func newLocalFeed() *Feed {
	return &Feed{
		cfg:     DefaultFeedConfig(),
		watches: make(map[string]map[uint64]watch),
		done:    make(chan struct{}),
	}
}

func TestFeed_Dispatch(t *testing.T) {
	f := newLocalFeed()

	var snake, chess, snake2 recorder
	cancelSnake, err := f.Watch("leaderboard_snake", snake.notify, snake.onError)
	require.NoError(t, err)
	_, err = f.Watch("leaderboard_chess", chess.notify, chess.onError)
	require.NoError(t, err)
	_, err = f.Watch("leaderboard_snake", snake2.notify, snake2.onError)
	require.NoError(t, err)

	f.dispatch("leaderboard_snake")
	f.dispatch("leaderboard_memory")

	n, _ := snake.counts()
	require.Equal(t, 1, n)
	n, _ = snake2.counts()
	require.Equal(t, 1, n)
	n, _ = chess.counts()
	require.Zero(t, n)

	cancelSnake()
	cancelSnake()
	f.dispatch("leaderboard_snake")

	n, _ = snake.counts()
	require.Equal(t, 1, n)
	n, _ = snake2.counts()
	require.Equal(t, 2, n)
}

func TestFeed_CancelDropsEmptyCollections(t *testing.T) {
	f := newLocalFeed()

	var r recorder
	cancel, err := f.Watch("leaderboard_snake", r.notify, r.onError)
	require.NoError(t, err)
	require.Len(t, f.watches, 1)

	cancel()
	require.Empty(t, f.watches)
}

func TestFeed_ListenerEvents(t *testing.T) {
	f := newLocalFeed()

	var snake, chess recorder
	_, err := f.Watch("leaderboard_snake", snake.notify, snake.onError)
	require.NoError(t, err)
	_, err = f.Watch("leaderboard_chess", chess.notify, nil)
	require.NoError(t, err)

	t.Run("disconnect reaches every watch", func(t *testing.T) {
		f.listenerEvent(pq.ListenerEventDisconnected, errors.New("connection reset"))

		_, errs := snake.counts()
		require.Equal(t, 1, errs)
		require.ErrorContains(t, snake.errs[0], "change feed disconnected")
	})

	t.Run("failed reconnect attempt", func(t *testing.T) {
		f.listenerEvent(pq.ListenerEventConnectionAttemptFailed, errors.New("refused"))

		_, errs := snake.counts()
		require.Equal(t, 2, errs)
	})

	t.Run("events without an error are ignored", func(t *testing.T) {
		f.listenerEvent(pq.ListenerEventDisconnected, nil)
		f.listenerEvent(pq.ListenerEventConnected, nil)

		n, errs := snake.counts()
		require.Zero(t, n)
		require.Equal(t, 2, errs)
	})

	t.Run("reconnect refreshes everyone", func(t *testing.T) {
		f.listenerEvent(pq.ListenerEventReconnected, nil)

		n, _ := snake.counts()
		require.Equal(t, 1, n)
		n, _ = chess.counts()
		require.Equal(t, 1, n)
	})
}

func TestFeed_WatchAfterClose(t *testing.T) {
	f := newLocalFeed()
	close(f.done)

	_, err := f.Watch("leaderboard_snake", func() {}, nil)
	require.ErrorIs(t, err, docstore.ErrClosed)
}
