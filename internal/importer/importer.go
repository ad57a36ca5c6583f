// Package importer fills decks from card files in a local directory or a git
// repository. Each file becomes a deck named after it; cards already present
// in the deck are skipped.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/conorfennell/knoldeck/internal/app"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/gitsource"
	"github.com/conorfennell/knoldeck/internal/knol"
	"github.com/conorfennell/knoldeck/internal/parser"
)

// Core is the part of app.Core the importer drives.
type Core interface {
	View() (app.View, error)
	WaitFor(ctx context.Context, ready func(app.View) bool) (app.View, error)
	AddDeck(name string) error
	StartCards(deckID string) error
	AddCard(deckID, front, back string) error
	DeleteCard(id string) error
	Flush(ctx context.Context) error
}

// Report summarizes one import.
type Report struct {
	Decks   int
	Added   int
	Skipped int
	Pruned  int
	Errors  []error
}

// Importer reads card files and writes them through a Core.
type Importer struct {
	core     Core
	reposDir string
	prune    bool
	log      *slog.Logger
}

// Option configures an Importer.
type Option func(*Importer)

// WithPrune deletes cards of imported decks that no longer appear in the files.
func WithPrune() Option {
	return func(i *Importer) { i.prune = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Importer) { i.log = l }
}

// New returns an importer that clones git sources under reposDir.
func New(core Core, reposDir string, opts ...Option) *Importer {
	i := &Importer{core: core, reposDir: reposDir, log: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Import reads every card file under source, which is a directory or a git
// URL, into decks of the signed-in principal.
func (i *Importer) Import(ctx context.Context, source string) (Report, error) {
	dir := source
	if gitsource.IsURL(source) {
		local, err := gitsource.LocalPath(i.reposDir, source)
		if err != nil {
			return Report{}, err
		}
		if err := gitsource.Sync(ctx, source, local); err != nil {
			return Report{}, err
		}
		dir = local
	}

	files, report := collect(dir)
	if len(files) == 0 && len(report.Errors) > 0 {
		return report, errors.Join(report.Errors...)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := i.importDeck(ctx, name, files[name], &report); err != nil {
			return report, err
		}
		report.Decks++
	}

	i.log.Info("import complete",
		"source", source,
		"decks", report.Decks,
		"added", report.Added,
		"skipped", report.Skipped,
		"pruned", report.Pruned,
		"errors", len(report.Errors),
	)
	return report, nil
}

// collect parses the card files under dir, grouped by deck name.
func collect(dir string) (map[string][]parser.Entry, Report) {
	var report Report
	files := make(map[string][]parser.Entry)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !isCardFile(d.Name()) {
			return nil
		}
		entries, err := parser.ParseFile(path)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Errorf("parsing %s: %w", path, err))
			return nil
		}
		name := parser.DeckName(path)
		files[name] = append(files[name], entries...)
		return nil
	})
	if walkErr != nil {
		report.Errors = append(report.Errors, fmt.Errorf("walking %s: %w", dir, walkErr))
	}
	return files, report
}

func isCardFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".md" || ext == ".txt"
}

func (i *Importer) importDeck(ctx context.Context, name string, entries []parser.Entry, report *Report) error {
	deckID, err := i.ensureDeck(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			report.Errors = append(report.Errors, fmt.Errorf("deck %q: %w", name, err))
			return nil
		}
		return err
	}

	if err := i.core.StartCards(deckID); err != nil {
		return err
	}
	v, err := i.core.WaitFor(ctx, func(v app.View) bool {
		return v.CardsDeckID == deckID && !v.LoadingCards
	})
	if err != nil {
		return fmt.Errorf("waiting for cards of %q: %w", name, err)
	}

	existing := make(map[string]string, len(v.Cards)) // hash -> card id
	for _, c := range v.Cards {
		existing[knol.Hash(c.Front, c.Back)] = c.ID
	}
	found := make(map[string]bool, len(entries))

	for _, e := range entries {
		hash := knol.Hash(e.Front, e.Back)
		if found[hash] {
			report.Skipped++
			continue
		}
		found[hash] = true
		if _, ok := existing[hash]; ok {
			report.Skipped++
			continue
		}
		if err := i.core.AddCard(deckID, e.Front, e.Back); err != nil {
			if errors.Is(err, domain.ErrNotAuthenticated) {
				return err
			}
			report.Errors = append(report.Errors, fmt.Errorf("%s line %d: %w", name, e.Line, err))
			continue
		}
		i.log.Debug("card added", "deck", name, "hash", hash)
		report.Added++
	}

	if i.prune {
		for hash, id := range existing {
			if found[hash] {
				continue
			}
			i.log.Info("orphaned card, deleting", "deck", name, "hash", hash)
			if err := i.core.DeleteCard(id); err != nil {
				report.Errors = append(report.Errors, fmt.Errorf("pruning %s: %w", id, err))
				continue
			}
			report.Pruned++
		}
	}

	return i.core.Flush(ctx)
}

// ensureDeck returns the id of the deck called name, creating it if needed.
func (i *Importer) ensureDeck(ctx context.Context, name string) (string, error) {
	find := func(v app.View) (string, bool) {
		for _, d := range v.Decks {
			if strings.EqualFold(d.Name, name) {
				return d.ID, true
			}
		}
		return "", false
	}

	v, err := i.core.WaitFor(ctx, func(v app.View) bool { return v.AuthReady && !v.LoadingDecks })
	if err != nil {
		return "", err
	}
	if !v.Principal.LoggedIn() {
		return "", domain.ErrNotAuthenticated
	}
	if id, ok := find(v); ok {
		return id, nil
	}

	if err := i.core.AddDeck(name); err != nil {
		return "", err
	}
	if err := i.core.Flush(ctx); err != nil {
		return "", err
	}
	v, err = i.core.WaitFor(ctx, func(v app.View) bool {
		_, ok := find(v)
		return ok || errors.Is(v.WriteErr, domain.ErrWriteFailed)
	})
	if err != nil {
		return "", fmt.Errorf("waiting for deck %q: %w", name, err)
	}
	id, ok := find(v)
	if !ok {
		return "", fmt.Errorf("deck %q: %w", name, v.WriteErr)
	}
	i.log.Info("deck created", "deck", name, "id", id)
	return id, nil
}
