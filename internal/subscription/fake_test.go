package subscription

import (
	"context"
	"sync"

	"github.com/conorfennell/knoldeck/internal/domain"
)

// fakeStore records listeners so tests decide when and what they deliver.
type fakeStore struct {
	mu    sync.Mutex
	auth  []*fakeListener
	decks []*fakeListener
	cards []*fakeListener
}

type fakeListener struct {
	query   domain.Query
	onAuth  func(domain.Principal)
	onDecks func([]domain.Deck)
	onCards func([]domain.Card)
	onError func(error)
	removed int
}

func (l *fakeListener) Remove() { l.removed++ }

func (s *fakeStore) ListenAuth(onChange func(domain.Principal)) domain.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := &fakeListener{onAuth: onChange}
	s.auth = append(s.auth, l)
	return l
}

func (s *fakeStore) ListenDecks(q domain.Query, onItems func([]domain.Deck), onError func(error)) domain.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := &fakeListener{query: q, onDecks: onItems, onError: onError}
	s.decks = append(s.decks, l)
	return l
}

func (s *fakeStore) ListenCards(q domain.Query, onItems func([]domain.Card), onError func(error)) domain.Registration {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := &fakeListener{query: q, onCards: onItems, onError: onError}
	s.cards = append(s.cards, l)
	return l
}

func (s *fakeStore) Mutate(ctx context.Context, m domain.Mutation) <-chan domain.Result {
	ch := make(chan domain.Result, 1)
	ch <- domain.Result{}
	return ch
}

func (s *fakeStore) lastAuth() *fakeListener  { return s.auth[len(s.auth)-1] }
func (s *fakeStore) lastDecks() *fakeListener { return s.decks[len(s.decks)-1] }
func (s *fakeStore) lastCards() *fakeListener { return s.cards[len(s.cards)-1] }

// inline runs posted callbacks immediately, standing in for the control thread.
func inline(fn func()) { fn() }
