package main

import (
	"testing"
	"time"

	"github.com/Seednode/minigames/leaderboard"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		port:       8080,
		store:      "memory",
		sessionTTL: time.Hour,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		err    error
		ok     bool
	}{
		{name: "defaults", modify: func(*Config) {}, ok: true},
		{name: "tls cert without key", modify: func(c *Config) { c.tlsCert = "cert.pem" }},
		{name: "port too low", modify: func(c *Config) { c.port = 0 }},
		{name: "port too high", modify: func(c *Config) { c.port = 70000 }},
		{name: "zero session ttl", modify: func(c *Config) { c.sessionTTL = 0 }},
		{name: "unknown store", modify: func(c *Config) { c.store = "sqlite" }, err: ErrInvalidStore},
		{name: "unknown feed", modify: func(c *Config) { c.feed = "kafka" }, err: ErrInvalidFeed},
		{name: "redis without addr", modify: func(c *Config) { c.store = "redis" }},
		{name: "redis", modify: func(c *Config) { c.store, c.redisAddr = "redis", "localhost:6379" }, ok: true},
		{name: "postgres without dsn", modify: func(c *Config) { c.store = "postgres" }},
		{name: "nats without url", modify: func(c *Config) { c.feed = "nats" }},
		{name: "memory store with nats feed", modify: func(c *Config) { c.feed, c.natsURL = "nats", "nats://localhost:4222" }, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)

			err := cfg.validate()
			if tt.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestConfigRemote(t *testing.T) {
	cfg := validConfig()
	require.False(t, cfg.remote().Configured())
	require.Equal(t, leaderboard.PlaceholderProjectID, cfg.remote().ProjectID)

	cfg.projectID = "arcade-prod"
	require.True(t, cfg.remote().Configured())

	cfg.remoteConfig = `{"projectId":"from-json","apiKey":"k"}`
	require.Equal(t, "from-json", cfg.remote().ProjectID)

	cfg.remoteConfig = `{broken`
	require.Equal(t, leaderboard.PlaceholderConfig(), cfg.remote())

	cfg.appID = "arcade"
	require.Equal(t, "arcade", cfg.leaderboardConfig().AppID)
}

func TestConfigResolvedFeed(t *testing.T) {
	cfg := validConfig()
	require.Equal(t, "memory", cfg.resolvedFeed())

	cfg.store = "postgres"
	require.Equal(t, "postgres", cfg.resolvedFeed())

	cfg.feed = "nats"
	require.Equal(t, "nats", cfg.resolvedFeed())
}

func TestBindEnv(t *testing.T) {
	t.Setenv("MINIGAMES_PORT", "9090")
	t.Setenv("MINIGAMES_REDIS_ADDR", "cache:6379")
	t.Setenv("MINIGAMES_CORS_ORIGINS", "https://a.example,https://b.example")

	var cfg Config

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.IntVar(&cfg.port, "port", 8080, "")
	fs.StringVar(&cfg.redisAddr, "redis-addr", "", "")
	fs.StringVar(&cfg.bind, "bind", "0.0.0.0", "")
	fs.StringSliceVar(&cfg.corsOrigins, "cors-origins", []string{"*"}, "")
	require.NoError(t, fs.Parse([]string{"--bind", "127.0.0.1"}))

	bindEnv(newViper(), fs)

	require.Equal(t, 9090, cfg.port)
	require.Equal(t, "cache:6379", cfg.redisAddr)
	require.Equal(t, "127.0.0.1", cfg.bind)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.corsOrigins)
}

func TestNewCmd_Flags(t *testing.T) {
	cmd := newCmd(&Config{})

	for _, name := range []string{"bind", "port", "prefix", "profile", "tls-cert", "tls-key", "version", "cors-origins"} {
		require.NotNil(t, cmd.Flags().Lookup(name), name)
	}
	for _, name := range []string{"store", "feed", "project-id", "remote-config", "app-id", "session-secret", "session-ttl", "initial-token", "games", "verbose"} {
		require.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}

	scores, _, err := cmd.Find([]string{"scores", "submit"})
	require.NoError(t, err)
	require.Equal(t, "submit", scores.Name())
	require.NotNil(t, scores.Flags().Lookup("extra"))
}
