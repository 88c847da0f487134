package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Seednode/minigames/leaderboard"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "MINIGAMES"

var (
	ErrInvalidStore = errors.New("unknown store backend")
	ErrInvalidFeed  = errors.New("unknown change feed")
)

type Config struct {
	bind        string
	corsOrigins []string
	games       string
	port        int
	prefix      string
	profile     bool
	tlsCert     string
	tlsKey      string
	verbose     bool
	version     bool

	appID        string
	projectID    string
	remoteConfig string

	store         string
	feed          string
	redisAddr     string
	redisPassword string
	redisDB       int
	redisPrefix   string
	postgresDSN   string
	natsURL       string

	initialToken  string
	sessionSecret string
	sessionTTL    time.Duration

	// scores submit
	name  string
	extra map[string]string
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.sessionTTL <= 0 {
		return fmt.Errorf("invalid session ttl (must be positive): %s", c.sessionTTL)
	}

	switch c.store {
	case "memory":
	case "redis":
		if c.redisAddr == "" {
			return errors.New("--redis-addr is required with --store=redis")
		}
	case "postgres":
		if c.postgresDSN == "" {
			return errors.New("--postgres-dsn is required with --store=postgres")
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidStore, c.store)
	}

	switch c.feed {
	case "", "memory":
	case "redis":
		if c.redisAddr == "" {
			return errors.New("--redis-addr is required with --feed=redis")
		}
	case "postgres":
		if c.postgresDSN == "" {
			return errors.New("--postgres-dsn is required with --feed=postgres")
		}
	case "nats":
		if c.natsURL == "" {
			return errors.New("--nats-url is required with --feed=nats")
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFeed, c.feed)
	}

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

// remote resolves the hosted project config. An explicit JSON document wins
// over --project-id; anything unparsable falls back to the placeholder.
func (c *Config) remote() leaderboard.RemoteConfig {
	if c.remoteConfig != "" {
		rc, err := leaderboard.ParseRemoteConfig(c.remoteConfig)
		if err != nil {
			log.Error().Err(err).Msg("invalid remote config, using placeholder")
			return leaderboard.PlaceholderConfig()
		}
		return rc
	}

	if c.projectID != "" {
		return leaderboard.RemoteConfig{ProjectID: c.projectID}
	}

	log.Warn().Msg("no remote config provided, using local placeholder")
	return leaderboard.PlaceholderConfig()
}

func (c *Config) leaderboardConfig() leaderboard.Config {
	return leaderboard.Config{
		Remote: c.remote(),
		AppID:  c.appID,
	}
}

// resolvedFeed is the change feed that goes with the configured store.
func (c *Config) resolvedFeed() string {
	if c.feed != "" {
		return c.feed
	}
	return c.store
}

func bindEnv(v *viper.Viper, fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, v.GetString(f.Name))
		}
	})
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return v
}

func newCmd(cfg *Config) *cobra.Command {
	v := newViper()

	cmd := &cobra.Command{
		Use:           "minigames",
		Short:         "A handful of browser mini-games with live leaderboards.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			bindEnv(v, cmd.Root().PersistentFlags())
			bindEnv(v, cmd.Flags())

			configureLogging(cfg)

			return cfg.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ServePage(cmd.Context(), cfg)
		},
	}

	pfs := cmd.PersistentFlags()

	pfs.StringVar(&cfg.appID, "app-id", leaderboard.DefaultAppID, "application id used to namespace leaderboards (env: MINIGAMES_APP_ID)")
	pfs.StringVar(&cfg.feed, "feed", "", "change feed: memory, redis, postgres or nats; defaults to match --store (env: MINIGAMES_FEED)")
	pfs.StringVar(&cfg.games, "games", "", "path to a game catalog yaml file, replacing the built-in one (env: MINIGAMES_GAMES)")
	pfs.StringVar(&cfg.initialToken, "initial-token", "", "session token to restore before signing in anonymously (env: MINIGAMES_INITIAL_TOKEN)")
	pfs.StringVar(&cfg.natsURL, "nats-url", "", "nats server url (env: MINIGAMES_NATS_URL)")
	pfs.StringVar(&cfg.postgresDSN, "postgres-dsn", "", "postgres connection string (env: MINIGAMES_POSTGRES_DSN)")
	pfs.StringVar(&cfg.projectID, "project-id", "", "remote project id; leaderboards are disabled without one (env: MINIGAMES_PROJECT_ID)")
	pfs.StringVar(&cfg.redisAddr, "redis-addr", "", "redis address (env: MINIGAMES_REDIS_ADDR)")
	pfs.IntVar(&cfg.redisDB, "redis-db", 0, "redis database number (env: MINIGAMES_REDIS_DB)")
	pfs.StringVar(&cfg.redisPassword, "redis-password", "", "redis password (env: MINIGAMES_REDIS_PASSWORD)")
	pfs.StringVar(&cfg.redisPrefix, "redis-prefix", "minigames", "prefix for redis keys and channels (env: MINIGAMES_REDIS_PREFIX)")
	pfs.StringVar(&cfg.remoteConfig, "remote-config", "", "remote project config as JSON, overrides --project-id (env: MINIGAMES_REMOTE_CONFIG)")
	pfs.StringVar(&cfg.sessionSecret, "session-secret", "", "secret used to sign session tokens; random when unset (env: MINIGAMES_SESSION_SECRET)")
	pfs.DurationVar(&cfg.sessionTTL, "session-ttl", 30*24*time.Hour, "lifetime of anonymous sessions (env: MINIGAMES_SESSION_TTL)")
	pfs.StringVar(&cfg.store, "store", "memory", "document store: memory, redis or postgres (env: MINIGAMES_STORE)")
	pfs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: MINIGAMES_VERBOSE)")

	fs := cmd.Flags()

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: MINIGAMES_BIND)")
	fs.StringSliceVar(&cfg.corsOrigins, "cors-origins", []string{"*"}, "origins allowed to call the json api (env: MINIGAMES_CORS_ORIGINS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: MINIGAMES_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: MINIGAMES_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: MINIGAMES_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: MINIGAMES_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: MINIGAMES_TLS_KEY)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: MINIGAMES_VERSION)")

	cmd.AddCommand(newScoresCmd(cfg))

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("minigames v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
