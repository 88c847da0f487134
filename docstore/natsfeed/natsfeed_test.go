package natsfeed_test

import (
	"context"
	"testing"
	"time"

	"github.com/Seednode/minigames/docstore/natsfeed"
	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/require"
)

func TestSubject(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		collection string
		want       string
	}{
		{
			name:       "leaderboard path",
			prefix:     "docstore.changes",
			collection: "projects/demo/documents/artifacts/default-app-id/public/data/leaderboard_mot-mystere",
			want:       "docstore.changes.projects.demo.documents.artifacts.default-app-id.public.data.leaderboard_mot-mystere",
		},
		{
			name:       "wildcards and dots are neutralised",
			prefix:     "p",
			collection: "a.b/c*/>",
			want:       "p.a_b.c_._",
		},
		{
			name:       "no prefix",
			collection: "scores",
			want:       "scores",
		},
		{
			name:       "empty segment",
			prefix:     "p",
			collection: "a//b",
			want:       "p.a._.b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, natsfeed.Subject(tt.prefix, tt.collection))
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := natsfeed.DefaultConfig()
	require.Equal(t, "nats://127.0.0.1:4222", cfg.URL)
	require.Equal(t, -1, cfg.MaxReconnects)
}

func newTestFeed(t *testing.T, url string) *natsfeed.Feed {
	t.Helper()

	cfg := natsfeed.DefaultConfig()
	cfg.URL = url
	f, err := natsfeed.New(cfg)
	require.NoError(t, err)

	return f
}

func notified(ch <-chan struct{}, within time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(within):
		return false
	}
}

func TestFeed_PublishAndWatch(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	watcher := newTestFeed(t, srv.ClientURL())
	defer watcher.Close()
	writer := newTestFeed(t, srv.ClientURL())
	defer writer.Close()

	const collection = "projects/arcade/documents/leaderboard_snake"

	ch := make(chan struct{}, 8)
	cancel, err := watcher.Watch(collection, func() { ch <- struct{}{} }, nil)
	require.NoError(t, err)

	require.NoError(t, writer.Publish(context.Background(), collection))
	require.True(t, notified(ch, 2*time.Second))

	require.NoError(t, writer.Publish(context.Background(), "projects/arcade/documents/leaderboard_chess"))
	require.False(t, notified(ch, 100*time.Millisecond))

	cancel()
	cancel()
	require.NoError(t, writer.Publish(context.Background(), collection))
	require.False(t, notified(ch, 100*time.Millisecond))
}

func TestFeed_CollidingSubjects(t *testing.T) {
	srv := natsserver.RunRandClientPortServer()
	defer srv.Shutdown()

	f := newTestFeed(t, srv.ClientURL())
	defer f.Close()

	// Both paths sanitize to the same subject.
	require.Equal(t, natsfeed.Subject("p", "a.b"), natsfeed.Subject("p", "a_b"))

	ch := make(chan struct{}, 8)
	_, err := f.Watch("a_b", func() { ch <- struct{}{} }, nil)
	require.NoError(t, err)

	require.NoError(t, f.Publish(context.Background(), "a.b"))
	require.False(t, notified(ch, 200*time.Millisecond))

	require.NoError(t, f.Publish(context.Background(), "a_b"))
	require.True(t, notified(ch, 2*time.Second))
}

func TestNew_Unreachable(t *testing.T) {
	cfg := natsfeed.DefaultConfig()
	cfg.URL = "nats://127.0.0.1:1"

	_, err := natsfeed.New(cfg)
	require.ErrorContains(t, err, "connect to NATS")
}
