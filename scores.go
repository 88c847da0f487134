package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"text/tabwriter"

	"github.com/Seednode/minigames/docstore"
	"github.com/Seednode/minigames/identity"
	"github.com/Seednode/minigames/leaderboard"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var ErrNotConfigured = errors.New("leaderboards are not configured, set --project-id or --remote-config")

// terminal is a single-session leaderboard client for the scores commands.
type terminal struct {
	catalog *Catalog
	store   docstore.Store
	boot    *identity.Bootstrap
	client  *leaderboard.Client
}

func openTerminal(ctx context.Context, cfg *Config) (*terminal, error) {
	catalog, err := loadCatalog(cfg.games)
	if err != nil {
		return nil, err
	}

	if cfg.store == "memory" {
		log.Warn().Msg("memory store is private to this process, scores will not be shared")
	}

	lbConfig := cfg.leaderboardConfig()

	store, err := openStore(ctx, cfg, lbConfig.Remote.ProjectID)
	if err != nil {
		return nil, err
	}

	issuer, err := newIssuer(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	boot := identity.NewBootstrap(identity.NewAuth(issuer), identity.WithInitialToken(cfg.initialToken))
	boot.Initialize(ctx)

	return &terminal{
		catalog: catalog,
		store:   store,
		boot:    boot,
		client:  leaderboard.NewClient(lbConfig, store, boot),
	}, nil
}

func (t *terminal) Close() error {
	t.boot.Close()
	return t.store.Close()
}

func (t *terminal) board(gameID string) (*leaderboard.Board, error) {
	game, err := t.catalog.Lookup(gameID)
	if err != nil {
		return nil, err
	}
	return t.client.Board(game.ID), nil
}

// printEntries writes a ranked table of entries.
func printEntries(w io.Writer, game string, entries []leaderboard.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "# %s\n", game)
	fmt.Fprintln(tw, "RANK\tNAME\tSCORE\tWHEN")
	for i, e := range entries {
		when := "pending"
		if !e.CreatedAt.IsZero() {
			when = e.CreatedAt.Local().Format(logDate)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, e.PlayerName, strconv.FormatFloat(e.Score, 'f', -1, 64), when)
	}

	return tw.Flush()
}

func watchScores(ctx context.Context, t *terminal, w io.Writer, gameID string) error {
	board, err := t.board(gameID)
	if err != nil {
		return err
	}
	if !board.Available() {
		return ErrNotConfigured
	}

	var mu sync.Mutex
	stopEntries := board.Entries().Watch(func(entries []leaderboard.Entry) {
		mu.Lock()
		defer mu.Unlock()

		if err := printEntries(w, board.Game(), entries); err != nil {
			log.Debug().Err(err).Msg("printing leaderboard")
		}
	})
	defer stopEntries()

	stopErrors := board.Error().Watch(func(msg string) {
		if msg == "" {
			return
		}

		mu.Lock()
		defer mu.Unlock()

		fmt.Fprintln(w, msg)
	})
	defer stopErrors()

	unsubscribe := board.Subscribe()
	defer unsubscribe()

	<-ctx.Done()

	return nil
}

// parseExtra turns key=value flags into typed fields, so that numbers and
// booleans are stored as such.
func parseExtra(raw map[string]string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	extra := make(map[string]any, len(raw))
	for k, v := range raw {
		if v == "" {
			extra[k] = ""
			continue
		}

		var value any
		if err := yaml.Unmarshal([]byte(v), &value); err != nil {
			return nil, fmt.Errorf("invalid value for %q: %w", k, err)
		}

		switch value.(type) {
		case string, bool, int, float64:
		default:
			value = v
		}
		extra[k] = value
	}

	return extra, nil
}

func saveScore(ctx context.Context, t *terminal, w io.Writer, gameID, rawScore, name string, rawExtra map[string]string) error {
	board, err := t.board(gameID)
	if err != nil {
		return err
	}

	score, err := strconv.ParseFloat(rawScore, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidScore, rawScore)
	}

	extra, err := parseExtra(rawExtra)
	if err != nil {
		return err
	}

	if !board.Available() {
		return ErrNotConfigured
	}

	if !board.Submit(ctx, name, score, extra) {
		return errors.New(board.Error().Get())
	}

	fmt.Fprintf(w, "saved %s for %s\n", strconv.FormatFloat(score, 'f', -1, 64), gameID)

	return nil
}

func newScoresCmd(cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scores",
		Short: "Watch or submit leaderboard scores from the terminal.",
	}

	watch := &cobra.Command{
		Use:   "watch <game>",
		Short: "Print a game's leaderboard every time it changes.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTerminal(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer t.Close()

			return watchScores(cmd.Context(), t, cmd.OutOrStdout(), args[0])
		},
	}

	submit := &cobra.Command{
		Use:   "submit <game> <score>",
		Short: "Save one score to a game's leaderboard.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := openTerminal(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer t.Close()

			return saveScore(cmd.Context(), t, cmd.OutOrStdout(), args[0], args[1], cfg.name, cfg.extra)
		},
	}

	submit.Flags().StringVarP(&cfg.name, "name", "n", "", "player name (env: MINIGAMES_NAME)")
	submit.Flags().StringToStringVar(&cfg.extra, "extra", nil, "additional fields as key=value, repeatable (env: MINIGAMES_EXTRA)")

	cmd.AddCommand(watch, submit)

	return cmd
}
