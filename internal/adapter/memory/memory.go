// Package memory implements a realtime in-memory store for development and testing.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/conorfennell/knoldeck/internal/adapter/authstate"
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/serial"
)

// Store keeps each principal's decks and cards in creation order and pushes
// every change to matching listeners.
type Store struct {
	mu        sync.Mutex
	decks     map[string][]domain.Deck
	cards     map[string][]domain.Card
	listeners map[*listener]struct{}
	auth      *authstate.State
	newID     func() string
	failWrite error
}

// Ensure interfaces are met.
var _ domain.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrincipal signs p in from the start.
func WithPrincipal(p domain.Principal) Option {
	return func(s *Store) { s.auth = authstate.New(p) }
}

// WithSequentialIDs assigns ids from a local counter ("1", "2", ...) instead
// of random UUIDs, as an offline device would.
func WithSequentialIDs() Option {
	return func(s *Store) {
		var n int64
		s.newID = func() string {
			n++
			return strconv.FormatInt(n, 10)
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		decks:     make(map[string][]domain.Deck),
		cards:     make(map[string][]domain.Card),
		listeners: make(map[*listener]struct{}),
		auth:      authstate.New(domain.Principal{}),
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type listener struct {
	store      *Store
	collection domain.Collection
	query      domain.Query
	onDecks    func([]domain.Deck)
	onCards    func([]domain.Card)
	q          *serial.Queue
	once       sync.Once
}

// Remove implements domain.Registration.
func (l *listener) Remove() {
	l.once.Do(func() {
		l.store.mu.Lock()
		delete(l.store.listeners, l)
		l.store.mu.Unlock()
	})
	l.q.Close()
}

// emit queues the current snapshot for l. Callers hold s.mu.
func (s *Store) emit(l *listener) {
	switch l.collection {
	case domain.Decks:
		items := slices.Clone(s.decks[l.query.UID])
		l.q.Post(func() { l.onDecks(items) })
	case domain.Cards:
		var items []domain.Card
		for _, c := range s.cards[l.query.UID] {
			if c.DeckID == l.query.DeckID {
				items = append(items, c)
			}
		}
		l.q.Post(func() { l.onCards(items) })
	}
}

func (s *Store) listen(l *listener) domain.Registration {
	l.store = s
	l.q = serial.New()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[l] = struct{}{}
	s.emit(l)
	return l
}

// ListenAuth implements domain.Store.
func (s *Store) ListenAuth(onChange func(domain.Principal)) domain.Registration {
	return s.auth.Listen(onChange)
}

// ListenDecks implements domain.Store.
func (s *Store) ListenDecks(q domain.Query, onItems func([]domain.Deck), onError func(error)) domain.Registration {
	return s.listen(&listener{collection: domain.Decks, query: q, onDecks: onItems})
}

// ListenCards implements domain.Store.
func (s *Store) ListenCards(q domain.Query, onItems func([]domain.Card), onError func(error)) domain.Registration {
	return s.listen(&listener{collection: domain.Cards, query: q, onCards: onItems})
}

// Mutate implements domain.Store. The result is delivered from a new goroutine.
func (s *Store) Mutate(ctx context.Context, m domain.Mutation) <-chan domain.Result {
	out := make(chan domain.Result, 1)
	go func() {
		if err := ctx.Err(); err != nil {
			out <- domain.Result{Err: err}
			return
		}
		id, err := s.apply(m)
		out <- domain.Result{ID: id, Err: err}
	}()
	return out
}

var errMissingPayload = errors.New("missing payload")

func (s *Store) apply(m domain.Mutation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWrite != nil {
		err := s.failWrite
		s.failWrite = nil
		return "", err
	}

	uid := m.Path.UID
	id := m.Path.ID
	switch m.Path.Collection {
	case domain.Decks:
		decks := s.decks[uid]
		i := slices.IndexFunc(decks, func(d domain.Deck) bool { return d.ID == id })
		switch m.Op {
		case domain.Insert:
			if m.Deck == nil {
				return "", errMissingPayload
			}
			d := *m.Deck
			d.ID = s.newID()
			id = d.ID
			s.decks[uid] = append(decks, d)
		case domain.Update:
			if m.Deck == nil {
				return "", errMissingPayload
			}
			if i < 0 {
				return "", fmt.Errorf("deck %s: %w", id, domain.ErrNotFound)
			}
			decks = slices.Clone(decks)
			decks[i].Name = m.Deck.Name
			s.decks[uid] = decks
		case domain.Delete:
			if i < 0 {
				return "", fmt.Errorf("deck %s: %w", id, domain.ErrNotFound)
			}
			s.decks[uid] = slices.Delete(slices.Clone(decks), i, i+1)
			s.cards[uid] = slices.DeleteFunc(slices.Clone(s.cards[uid]), func(c domain.Card) bool {
				return c.DeckID == id
			})
		}
	case domain.Cards:
		cards := s.cards[uid]
		i := slices.IndexFunc(cards, func(c domain.Card) bool { return c.ID == id })
		switch m.Op {
		case domain.Insert:
			if m.Card == nil {
				return "", errMissingPayload
			}
			c := *m.Card
			c.ID = s.newID()
			id = c.ID
			s.cards[uid] = append(cards, c)
		case domain.Update:
			if m.Card == nil {
				return "", errMissingPayload
			}
			if i < 0 {
				return "", fmt.Errorf("card %s: %w", id, domain.ErrNotFound)
			}
			c := *m.Card
			c.ID = id
			c.DeckID = cards[i].DeckID
			cards = slices.Clone(cards)
			cards[i] = c
			s.cards[uid] = cards
		case domain.Delete:
			if i < 0 {
				return "", fmt.Errorf("card %s: %w", id, domain.ErrNotFound)
			}
			s.cards[uid] = slices.Delete(slices.Clone(cards), i, i+1)
		}
	default:
		return "", fmt.Errorf("unknown collection %q", m.Path.Collection)
	}

	for l := range s.listeners {
		if l.query.UID == uid {
			s.emit(l)
		}
	}
	return id, nil
}

// SignIn sets the principal and notifies auth listeners.
func (s *Store) SignIn(p domain.Principal) {
	s.auth.Set(p)
}

// SignOut clears the principal.
func (s *Store) SignOut() {
	s.auth.Set(domain.Principal{})
}

// FailNextWrite makes the next mutation fail with err.
func (s *Store) FailNextWrite(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrite = err
}

// Listeners returns the number of registered collection listeners.
func (s *Store) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}
