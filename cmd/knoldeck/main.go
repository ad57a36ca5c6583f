package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/conorfennell/knoldeck/internal/adapter/memory"
	"github.com/conorfennell/knoldeck/internal/adapter/sqlstore"
	"github.com/conorfennell/knoldeck/internal/app"
	"github.com/conorfennell/knoldeck/internal/config"
	"github.com/conorfennell/knoldeck/internal/domain"
)

// startupWait bounds how long a command waits for the store's first deliveries.
const startupWait = 10 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "knoldeck",
		Short:         "Flashcard decks with spaced repetition review",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(decksCmd())
	rootCmd.AddCommand(deckCmd())
	rootCmd.AddCommand(cardsCmd())
	rootCmd.AddCommand(cardCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// session is a started core plus what it takes to shut it down.
type session struct {
	cfg   config.Config
	log   *slog.Logger
	core  *app.Core
	close func() error
}

func (s *session) Close() {
	s.core.Dispose()
	if s.close != nil {
		if err := s.close(); err != nil {
			s.log.Warn("failed to close store", "error", err)
		}
	}
}

// open loads the config, opens the store and starts a core on it. It returns
// once the principal's decks are loaded.
func open(cmd *cobra.Command) (*session, error) {
	flags := cmd.Root().PersistentFlags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path, flags)
	if err != nil {
		return nil, err
	}
	log := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	slog.SetDefault(log)

	store, closeStore, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return nil, err
	}

	core := app.New(store, app.WithLogger(log))
	s := &session{cfg: cfg, log: log, core: core, close: closeStore}
	if err := core.Init(); err != nil {
		s.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), startupWait)
	defer cancel()
	v, err := core.WaitFor(ctx, func(v app.View) bool { return v.AuthReady && !v.LoadingDecks })
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("waiting for store: %w", err)
	}
	if v.Error != "" {
		s.Close()
		return nil, errors.New(v.Error)
	}
	return s, nil
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (domain.Store, func() error, error) {
	principal := cfg.Principal()
	switch cfg.Store.Driver {
	case "memory":
		return memory.New(memory.WithPrincipal(principal)), nil, nil
	default:
		store, err := sqlstore.Open(ctx, sqlstore.Dialect(cfg.Store.Driver), cfg.Store.DSN,
			sqlstore.WithLogger(log),
			sqlstore.WithPollInterval(cfg.Store.PollInterval),
			sqlstore.WithPrincipal(principal),
		)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
}

// finish waits for the command's writes and reports the resulting status.
func (s *session) finish(cmd *cobra.Command) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), startupWait)
	defer cancel()
	if err := s.core.Flush(ctx); err != nil {
		return err
	}
	v, err := s.core.View()
	if err != nil {
		return err
	}
	if errors.Is(v.WriteErr, domain.ErrWriteFailed) {
		return v.WriteErr
	}
	if v.Status != "" {
		fmt.Fprintln(cmd.OutOrStdout(), v.Status)
	}
	return nil
}

// findDeck resolves ref as a deck id or, ignoring case, a deck name.
func (s *session) findDeck(ref string) (domain.Deck, error) {
	v, err := s.core.View()
	if err != nil {
		return domain.Deck{}, err
	}
	if d, ok := v.Deck(ref); ok {
		return d, nil
	}
	for _, d := range v.Decks {
		if strings.EqualFold(d.Name, ref) {
			return d, nil
		}
	}
	return domain.Deck{}, fmt.Errorf("deck %q: %w", ref, domain.ErrNotFound)
}

// loadCards opens the deck's cards and waits for them.
func (s *session) loadCards(cmd *cobra.Command, deckID string) (app.View, error) {
	if err := s.core.StartCards(deckID); err != nil {
		return app.View{}, err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), startupWait)
	defer cancel()
	return s.core.WaitFor(ctx, func(v app.View) bool {
		return v.CardsDeckID == deckID && !v.LoadingCards
	})
}
