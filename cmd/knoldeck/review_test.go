package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/conorfennell/knoldeck/internal/adapter/memory"
	"github.com/conorfennell/knoldeck/internal/app"
	"github.com/conorfennell/knoldeck/internal/domain"
)

func TestRunReview(t *testing.T) {
	store := memory.New(memory.WithPrincipal(domain.Principal{UID: "alice"}))
	today := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	core := app.New(store, app.WithClock(func() time.Time { return today }))
	if err := core.Init(); err != nil {
		t.Fatal(err)
	}
	defer core.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res := <-store.Mutate(ctx, domain.Mutation{
		Path: domain.Path{UID: "alice", Collection: domain.Decks},
		Op:   domain.Insert,
		Deck: &domain.Deck{Name: "Spanish"},
	})
	<-store.Mutate(ctx, domain.Mutation{
		Path: domain.Path{UID: "alice", Collection: domain.Cards},
		Op:   domain.Insert,
		Card: &domain.Card{DeckID: res.ID, Front: "Hola", Back: "Hello", IntervalDays: 5, DueDate: "2024-03-10"},
	})
	if _, err := core.WaitFor(ctx, func(v app.View) bool { _, ok := v.Deck(res.ID); return ok }); err != nil {
		t.Fatal(err)
	}
	if err := core.EnterReview(res.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := core.WaitFor(ctx, func(v app.View) bool { return v.Session != nil && v.Session.Phase == "active" }); err != nil {
		t.Fatal(err)
	}

	// reveal, a typo, then Hard, then quit at the summary
	in := strings.NewReader("\nmaybe\nhard\nq\n")
	var out bytes.Buffer
	if err := runReview(core, in, &out); err != nil {
		t.Fatalf("runReview() returned an unexpected error: %v", err)
	}

	text := out.String()
	for _, want := range []string{"[1/1] Hola", "Hello", "Unknown rating: maybe", "Next due: 2024-03-16", "Reviewed 1 of 1. Hard: 1"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected output to contain %q, but got:\n%s", want, text)
		}
	}
}
