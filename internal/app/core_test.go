package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/conorfennell/knoldeck/internal/adapter/memory"
	"github.com/conorfennell/knoldeck/internal/app"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/scheduler"
)

var (
	today = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	alice = domain.Principal{UID: "alice", Email: "alice@example.com"}
)

func newCore(t *testing.T, store *memory.Store) *app.Core {
	t.Helper()
	c := app.New(store, app.WithClock(func() time.Time { return today }))
	if err := c.Init(); err != nil {
		t.Fatalf("Init() returned an unexpected error: %v", err)
	}
	t.Cleanup(c.Dispose)
	return c
}

func waitFor(t *testing.T, c *app.Core, what string, ready func(app.View) bool) app.View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := c.WaitFor(ctx, ready)
	if err != nil {
		t.Fatalf("Timed out waiting for %s, last view %+v", what, v)
	}
	return v
}

func flush(t *testing.T, c *app.Core) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush() returned an unexpected error: %v", err)
	}
}

// seed writes a deck straight to the store and waits for the core to see it.
func seedDeck(t *testing.T, c *app.Core, store *memory.Store, name string) string {
	t.Helper()
	res := <-store.Mutate(context.Background(), domain.Mutation{
		Path: domain.Path{UID: alice.UID, Collection: domain.Decks},
		Op:   domain.Insert,
		Deck: &domain.Deck{Name: name},
	})
	if res.Err != nil {
		t.Fatalf("seed deck: %v", res.Err)
	}
	waitFor(t, c, "seeded deck", func(v app.View) bool {
		_, ok := v.Deck(res.ID)
		return ok
	})
	return res.ID
}

func seedCard(t *testing.T, store *memory.Store, card domain.Card) string {
	t.Helper()
	res := <-store.Mutate(context.Background(), domain.Mutation{
		Path: domain.Path{UID: alice.UID, Collection: domain.Cards},
		Op:   domain.Insert,
		Card: &card,
	})
	if res.Err != nil {
		t.Fatalf("seed card: %v", res.Err)
	}
	return res.ID
}

func TestLoginStartsDecks(t *testing.T) {
	store := memory.New(memory.WithSequentialIDs())
	c := newCore(t, store)

	v, err := c.View()
	if err != nil {
		t.Fatal(err)
	}
	if v.Principal.LoggedIn() {
		t.Errorf("Expected no principal, but got %+v", v.Principal)
	}

	if err := c.AddDeck("Spanish"); !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Errorf("Expected ErrNotAuthenticated, but got %v", err)
	}

	store.SignIn(alice)
	v = waitFor(t, c, "login", func(v app.View) bool { return v.Principal == alice && !v.LoadingDecks })
	if len(v.Decks) != 0 {
		t.Errorf("Expected no decks, but got %+v", v.Decks)
	}
}

func TestDeckCommands(t *testing.T) {
	store := memory.New(memory.WithPrincipal(alice), memory.WithSequentialIDs())
	c := newCore(t, store)
	waitFor(t, c, "decks", func(v app.View) bool { return v.Principal.LoggedIn() && !v.LoadingDecks })

	if err := c.AddDeck("  Spanish "); err != nil {
		t.Fatalf("AddDeck() returned an unexpected error: %v", err)
	}
	flush(t, c)
	v := waitFor(t, c, "added deck", func(v app.View) bool { return len(v.Decks) == 1 })
	if v.Decks[0].Name != "Spanish" {
		t.Errorf("Expected trimmed name 'Spanish', but got %q", v.Decks[0].Name)
	}
	if v.Status != app.StatusDeckAdded {
		t.Errorf("Expected status %q, but got %q", app.StatusDeckAdded, v.Status)
	}
	id := v.Decks[0].ID

	t.Run("validation", func(t *testing.T) {
		testCases := []struct {
			name    string
			input   string
			message string
		}{
			{"empty", "   ", "Name can't be empty"},
			{"too long", "abcdefghijabcdefghijabcdefghijk", "Name can't be longer than 30 characters"},
			{"multi line", "Spa\nnish", "Name must be a single line"},
			{"duplicate", "SPANISH", "A deck with that name already exists"},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				err := c.AddDeck(tc.input)
				if !errors.Is(err, domain.ErrValidation) {
					t.Fatalf("Expected a validation error, but got %v", err)
				}
				if err.Error() != tc.message {
					t.Errorf("Expected message %q, but got %q", tc.message, err.Error())
				}
			})
		}
	})

	t.Run("rename", func(t *testing.T) {
		if err := c.RenameDeck(id, "spanish"); err != nil {
			t.Fatalf("Expected renaming a deck to its own name in another case to pass, but got %v", err)
		}
		flush(t, c)
		v := waitFor(t, c, "rename", func(v app.View) bool { return len(v.Decks) == 1 && v.Decks[0].Name == "spanish" })
		if v.Status != app.StatusDeckUpdated {
			t.Errorf("Expected status %q, but got %q", app.StatusDeckUpdated, v.Status)
		}
		if err := c.RenameDeck("missing", "French"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, but got %v", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := c.DeleteDeck(id); err != nil {
			t.Fatalf("DeleteDeck() returned an unexpected error: %v", err)
		}
		flush(t, c)
		v := waitFor(t, c, "delete", func(v app.View) bool { return len(v.Decks) == 0 })
		if v.Status != app.StatusDeckDeleted {
			t.Errorf("Expected status %q, but got %q", app.StatusDeckDeleted, v.Status)
		}
	})
}

func TestWriteFailure(t *testing.T) {
	store := memory.New(memory.WithPrincipal(alice))
	c := newCore(t, store)
	waitFor(t, c, "decks", func(v app.View) bool { return v.Principal.LoggedIn() && !v.LoadingDecks })

	store.FailNextWrite(errors.New("quota exceeded"))
	if err := c.AddDeck("Spanish"); err != nil {
		t.Fatalf("AddDeck() returned an unexpected error: %v", err)
	}
	flush(t, c)
	v, err := c.View()
	if err != nil {
		t.Fatal(err)
	}
	if v.Status != "Add failed: quota exceeded" {
		t.Errorf("Expected status 'Add failed: quota exceeded', but got %q", v.Status)
	}
	if len(v.Decks) != 0 {
		t.Errorf("Expected no decks after failed write, but got %+v", v.Decks)
	}
	if !errors.Is(v.WriteErr, domain.ErrWriteFailed) {
		t.Errorf("Expected WriteErr to match ErrWriteFailed, but got %v", v.WriteErr)
	}

	// the core stays usable
	if err := c.AddDeck("Spanish"); err != nil {
		t.Fatalf("AddDeck() returned an unexpected error: %v", err)
	}
	flush(t, c)
	v = waitFor(t, c, "retry", func(v app.View) bool { return len(v.Decks) == 1 })
	if v.WriteErr != nil {
		t.Errorf("Expected WriteErr to clear after a successful write, but got %v", v.WriteErr)
	}
}

func TestConcurrentFlush(t *testing.T) {
	store := memory.New(memory.WithPrincipal(alice))
	c := newCore(t, store)
	waitFor(t, c, "decks", func(v app.View) bool { return v.Principal.LoggedIn() && !v.LoadingDecks })

	const workers, each = 8, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*each*2)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range each {
				if err := c.AddDeck(fmt.Sprintf("deck %d-%d", w, i)); err != nil {
					errs <- err
				}
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				if err := c.Flush(ctx); err != nil {
					errs <- err
				}
				cancel()
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Unexpected error: %v", err)
	}

	flush(t, c)
	waitFor(t, c, "all decks", func(v app.View) bool { return len(v.Decks) == workers*each })
}

func TestFlushWithoutWrites(t *testing.T) {
	c := newCore(t, memory.New(memory.WithPrincipal(alice)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.Flush(ctx); err != nil {
		t.Errorf("Expected Flush to return at once with nothing pending, but got %v", err)
	}
}

func TestCardCommands(t *testing.T) {
	store := memory.New(memory.WithPrincipal(alice), memory.WithSequentialIDs())
	c := newCore(t, store)
	waitFor(t, c, "decks", func(v app.View) bool { return v.Principal.LoggedIn() && !v.LoadingDecks })
	deckID := seedDeck(t, c, store, "Spanish")

	if err := c.AddCard("missing", "Hola", "Hello"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for an unknown deck, but got %v", err)
	}

	if err := c.StartCards(deckID); err != nil {
		t.Fatalf("StartCards() returned an unexpected error: %v", err)
	}
	waitFor(t, c, "cards", func(v app.View) bool { return v.CardsDeckID == deckID && !v.LoadingCards })

	if err := c.AddCard(deckID, " Hola ", "Hello"); err != nil {
		t.Fatalf("AddCard() returned an unexpected error: %v", err)
	}
	flush(t, c)
	v := waitFor(t, c, "added card", func(v app.View) bool { return len(v.Cards) == 1 })
	card := v.Cards[0]
	if card.Front != "Hola" || card.IntervalDays != 1 || card.DueDate != "2024-03-10" || card.LastReviewed != "" {
		t.Errorf("Expected a new card due today, but got %+v", card)
	}

	if err := c.AddCard(deckID, "hola", "HELLO"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Expected a duplicate card to be rejected, but got %v", err)
	}
	if err := c.AddCard(deckID, "Adios", " "); err == nil || err.Error() != "Front and Back can't be empty" {
		t.Errorf("Expected an empty back to be rejected, but got %v", err)
	}

	edit := card
	edit.Front, edit.Back = "Hola", "Hi"
	edit.DueDate = "2099-01-01"
	if err := c.UpdateCard(card.ID, edit); err != nil {
		t.Fatalf("UpdateCard() returned an unexpected error: %v", err)
	}
	v, _ = c.View()
	if v.Cards[0].Back != "Hi" {
		t.Errorf("Expected the cached card to be patched before the write lands, but got %+v", v.Cards[0])
	}
	if v.Cards[0].DueDate != "2024-03-10" {
		t.Errorf("Expected the due date to be kept, but got %q", v.Cards[0].DueDate)
	}
	flush(t, c)

	if err := c.DeleteCard(card.ID); err != nil {
		t.Fatalf("DeleteCard() returned an unexpected error: %v", err)
	}
	flush(t, c)
	v = waitFor(t, c, "deleted card", func(v app.View) bool { return len(v.Cards) == 0 })
	if v.Status != app.StatusCardDeleted {
		t.Errorf("Expected status %q, but got %q", app.StatusCardDeleted, v.Status)
	}
	if err := c.DeleteCard(card.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, but got %v", err)
	}
}

func TestReviewScenario(t *testing.T) {
	store := memory.New(memory.WithPrincipal(alice), memory.WithSequentialIDs())
	c := newCore(t, store)
	waitFor(t, c, "decks", func(v app.View) bool { return v.Principal.LoggedIn() && !v.LoadingDecks })
	deckID := seedDeck(t, c, store, "Spanish")
	seedCard(t, store, domain.Card{DeckID: deckID, Front: "Hola", Back: "Hello", IntervalDays: 5, DueDate: "2024-03-10"})
	seedCard(t, store, domain.Card{DeckID: deckID, Front: "Adios", Back: "Bye", IntervalDays: 1, DueDate: "2024-04-01"})

	if err := c.EnterReview(deckID); err != nil {
		t.Fatalf("EnterReview() returned an unexpected error: %v", err)
	}
	v := waitFor(t, c, "session", func(v app.View) bool { return v.Session != nil && v.Session.Phase == "active" })
	if v.Session.Total != 1 {
		t.Fatalf("Expected a queue of 1 due card, but got %d", v.Session.Total)
	}
	key := v.Session.Head.Key

	if err := c.Rate(key, scheduler.Hard); err != nil {
		t.Fatalf("Rate() returned an unexpected error: %v", err)
	}
	v, _ = c.View()
	if v.Session.Phase != "exhausted" {
		t.Errorf("Expected the session to be exhausted, but got %s", v.Session.Phase)
	}
	if v.Session.Counters[scheduler.Hard] != 1 {
		t.Errorf("Expected one Hard rating, but got %v", v.Session.Counters)
	}
	if v.Session.Message != "Next due: 2024-03-16" {
		t.Errorf("Expected 'Next due: 2024-03-16', but got %q", v.Session.Message)
	}

	if err := c.Rate(key, scheduler.Good); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected a second rating of the same card to fail, but got %v", err)
	}

	flush(t, c)
	v = waitFor(t, c, "rated card", func(v app.View) bool {
		for _, card := range v.Cards {
			if card.ID == key {
				return card.IntervalDays == 6
			}
		}
		return false
	})
	if v.Status != app.StatusCardUpdated {
		t.Errorf("Expected status %q, but got %q", app.StatusCardUpdated, v.Status)
	}

	if err := c.RestartSession(); err != nil {
		t.Fatalf("RestartSession() returned an unexpected error: %v", err)
	}
	v, _ = c.View()
	if v.Session.Phase != "exhausted" || v.Session.Total != 0 {
		t.Errorf("Expected an empty exhausted session after restart, but got %+v", v.Session)
	}

	if err := c.ExitReview(); err != nil {
		t.Fatal(err)
	}
	v, _ = c.View()
	if v.Session != nil {
		t.Errorf("Expected no session after exit, but got %+v", v.Session)
	}
}

func TestSessionIsolation(t *testing.T) {
	store := memory.New(memory.WithPrincipal(alice), memory.WithSequentialIDs())
	c := newCore(t, store)
	waitFor(t, c, "decks", func(v app.View) bool { return v.Principal.LoggedIn() && !v.LoadingDecks })
	deckID := seedDeck(t, c, store, "Spanish")
	seedCard(t, store, domain.Card{DeckID: deckID, Front: "Hola", Back: "Hello", IntervalDays: 1, DueDate: "2024-03-01"})

	if err := c.EnterReview(deckID); err != nil {
		t.Fatal(err)
	}
	waitFor(t, c, "session", func(v app.View) bool { return v.Session != nil && v.Session.Phase == "active" })

	seedCard(t, store, domain.Card{DeckID: deckID, Front: "Adios", Back: "Bye", IntervalDays: 1, DueDate: "2024-03-01"})
	v := waitFor(t, c, "remote card", func(v app.View) bool { return len(v.Cards) == 2 })
	if v.Session.Total != 1 {
		t.Errorf("Expected the session queue to stay at 1, but got %d", v.Session.Total)
	}

	if err := c.RestartSession(); err != nil {
		t.Fatal(err)
	}
	v, _ = c.View()
	if v.Session.Total != 2 {
		t.Errorf("Expected restart to pick up both due cards, but got %d", v.Session.Total)
	}
}

func TestDeckSwitchAndSignOut(t *testing.T) {
	store := memory.New(memory.WithPrincipal(alice), memory.WithSequentialIDs())
	c := newCore(t, store)
	waitFor(t, c, "decks", func(v app.View) bool { return v.Principal.LoggedIn() && !v.LoadingDecks })
	spanish := seedDeck(t, c, store, "Spanish")
	french := seedDeck(t, c, store, "French")
	seedCard(t, store, domain.Card{DeckID: spanish, Front: "Hola", Back: "Hello", IntervalDays: 1, DueDate: "2024-03-01"})

	if err := c.EnterReview(spanish); err != nil {
		t.Fatal(err)
	}
	waitFor(t, c, "session", func(v app.View) bool { return v.Session != nil && v.Session.Phase == "active" })

	if err := c.StartCards(french); err != nil {
		t.Fatal(err)
	}
	v, _ := c.View()
	if v.Session != nil {
		t.Errorf("Expected the session to end on deck switch, but got %+v", v.Session)
	}
	if v.CardsDeckID != french || len(v.Cards) != 0 {
		t.Errorf("Expected empty cards of the new deck, but got %q %+v", v.CardsDeckID, v.Cards)
	}

	if err := c.SignOut(); err != nil {
		t.Fatal(err)
	}
	v, _ = c.View()
	if v.Principal.LoggedIn() || len(v.Decks) != 0 || len(v.Cards) != 0 {
		t.Errorf("Expected cleared state after sign out, but got %+v", v)
	}
	if v.Status != app.StatusSignedOut {
		t.Errorf("Expected status %q, but got %q", app.StatusSignedOut, v.Status)
	}
	if got := store.Listeners(); got != 0 {
		t.Errorf("Expected no collection listeners after sign out, but got %d", got)
	}
}

func TestDispose(t *testing.T) {
	store := memory.New(memory.WithPrincipal(alice))
	c := app.New(store)
	if err := c.Init(); err != nil {
		t.Fatal(err)
	}
	c.Dispose()
	c.Dispose()

	if err := c.AddDeck("Spanish"); !errors.Is(err, app.ErrClosed) {
		t.Errorf("Expected ErrClosed, but got %v", err)
	}
	if got := store.Listeners(); got != 0 {
		t.Errorf("Expected no listeners after dispose, but got %d", got)
	}
}
