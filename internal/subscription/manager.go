package subscription

import (
	"log/slog"
	"slices"

	"github.com/conorfennell/knoldeck/internal/domain"
)

// ErrorSink receives listen failures of a started scope.
type ErrorSink func(error)

// Hooks are notified on the control thread after the manager's state changes.
type Hooks struct {
	// Changed fires after any cached collection, loading flag or principal changes.
	Changed func()
	// AuthChanged fires after the principal changed and the cascade ran.
	AuthChanged func(prev, next domain.Principal)
	// CardsDelivered fires after a current cards delivery was applied.
	CardsDelivered func(deckID string, cards []domain.Card)
}

// Manager owns the auth, decks and cards subscriptions and their caches.
//
// All methods must run on the control thread. Store callbacks arrive on store
// goroutines and are handed to post, which must run them on that same thread.
type Manager struct {
	store domain.Store
	post  func(func())
	log   *slog.Logger
	hooks Hooks

	reg       *Registry
	principal domain.Principal
	authKnown bool
	authSink  ErrorSink

	decks        []domain.Deck
	cards        []domain.Card
	cardsDeckID  string
	loadingDecks bool
	loadingCards bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithHooks sets the change hooks.
func WithHooks(h Hooks) Option {
	return func(m *Manager) { m.hooks = h }
}

// NewManager returns a manager with no live subscriptions.
func NewManager(store domain.Store, post func(func()), opts ...Option) *Manager {
	m := &Manager{
		store: store,
		post:  post,
		log:   slog.Default(),
		reg:   NewRegistry(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartAuth listens to the principal. On login the decks scope starts with
// sink; on logout every data scope stops and the caches are cleared.
func (m *Manager) StartAuth(sink ErrorSink) {
	m.authSink = sink
	scope := Auth()
	m.reg.Start(scope, func(tok Token) domain.Registration {
		return m.store.ListenAuth(func(p domain.Principal) {
			m.post(func() {
				if !m.current(scope, tok) {
					return
				}
				first := !m.authKnown
				m.authKnown = true
				m.setPrincipal(p)
				if first {
					m.changed()
				}
			})
		})
	})
}

// StopAuth stops listening to the principal. The current principal is kept.
func (m *Manager) StopAuth() {
	m.reg.Stop(AuthState)
}

func (m *Manager) setPrincipal(next domain.Principal) {
	prev := m.principal
	if prev == next {
		return
	}
	m.principal = next
	m.log.Info("principal changed", "from", prev.UID, "to", next.UID)

	// A different principal must never see the previous one's cached data.
	if prev.LoggedIn() {
		m.StopData()
		m.Clear()
	}
	if m.hooks.AuthChanged != nil {
		m.hooks.AuthChanged(prev, next)
	}
	if next.LoggedIn() {
		if err := m.StartDecks(m.authSink); err != nil {
			m.log.Warn("could not start decks after login", "error", err)
		}
	}
	m.changed()
}

// AuthKnown reports whether the auth listener has delivered at least once.
func (m *Manager) AuthKnown() bool {
	return m.authKnown
}

// Principal returns the signed-in principal.
func (m *Manager) Principal() domain.Principal {
	return m.principal
}

// SetPrincipal applies a principal change without waiting for the store, as
// when the caller signs out.
func (m *Manager) SetPrincipal(p domain.Principal) {
	m.setPrincipal(p)
}

// StartDecks replaces the decks subscription. The cached decks are kept as
// last-known-good until the first delivery.
func (m *Manager) StartDecks(sink ErrorSink) error {
	if !m.principal.LoggedIn() {
		report(sink, domain.ErrNotAuthenticated)
		return domain.ErrNotAuthenticated
	}
	scope := Decks()
	q := domain.Query{UID: m.principal.UID}
	m.loadingDecks = true
	m.reg.Start(scope, func(tok Token) domain.Registration {
		return m.store.ListenDecks(q,
			func(decks []domain.Deck) {
				m.post(func() {
					if !m.current(scope, tok) {
						return
					}
					m.decks = decks
					m.loadingDecks = false
					m.changed()
				})
			},
			func(err error) {
				m.post(func() {
					if !m.current(scope, tok) {
						return
					}
					m.loadingDecks = false
					m.log.Warn("decks listener failed", "error", err)
					report(sink, domain.ListenFailed(err))
					m.changed()
				})
			})
	})
	m.changed()
	return nil
}

// StopDecks cancels the decks subscription if there is one.
func (m *Manager) StopDecks() {
	if m.reg.Stop(DecksForUser) {
		m.loadingDecks = false
		m.changed()
	}
}

// StartCards replaces the cards subscription with one for deckID. The cached
// cards are cleared first so another deck's cards are never shown as deckID's.
func (m *Manager) StartCards(deckID string, sink ErrorSink) error {
	if !m.principal.LoggedIn() {
		report(sink, domain.ErrNotAuthenticated)
		return domain.ErrNotAuthenticated
	}
	m.reg.Stop(CardsForDeck)
	m.cards = nil
	m.cardsDeckID = deckID
	m.loadingCards = true

	scope := Cards(deckID)
	q := domain.Query{UID: m.principal.UID, DeckID: deckID}
	m.reg.Start(scope, func(tok Token) domain.Registration {
		return m.store.ListenCards(q,
			func(cards []domain.Card) {
				m.post(func() {
					if !m.current(scope, tok) {
						return
					}
					m.cards = cards
					m.loadingCards = false
					if m.hooks.CardsDelivered != nil {
						m.hooks.CardsDelivered(deckID, slices.Clone(cards))
					}
					m.changed()
				})
			},
			func(err error) {
				m.post(func() {
					if !m.current(scope, tok) {
						return
					}
					m.loadingCards = false
					m.log.Warn("cards listener failed", "deck", deckID, "error", err)
					report(sink, domain.ListenFailed(err))
					m.changed()
				})
			})
	})
	m.changed()
	return nil
}

// StopCards cancels the cards subscription if there is one.
func (m *Manager) StopCards() {
	if m.reg.Stop(CardsForDeck) {
		m.loadingCards = false
		m.changed()
	}
}

// StopData cancels the decks and cards subscriptions.
func (m *Manager) StopData() {
	m.StopCards()
	m.StopDecks()
}

// StopAll cancels every subscription, auth included.
func (m *Manager) StopAll() {
	m.StopData()
	m.StopAuth()
}

// Clear empties the cached collections.
func (m *Manager) Clear() {
	m.decks = nil
	m.cards = nil
	m.cardsDeckID = ""
	m.loadingDecks = false
	m.loadingCards = false
	m.changed()
}

// PatchCard replaces the cached card with the same id, if it is cached.
func (m *Manager) PatchCard(card domain.Card) bool {
	i := slices.IndexFunc(m.cards, func(c domain.Card) bool { return c.ID == card.ID })
	if i < 0 {
		return false
	}
	m.cards = slices.Clone(m.cards)
	m.cards[i] = card
	m.changed()
	return true
}

// Decks returns a copy of the cached decks.
func (m *Manager) Decks() []domain.Deck {
	return slices.Clone(m.decks)
}

// Deck returns the cached deck with id.
func (m *Manager) Deck(id string) (domain.Deck, bool) {
	i := slices.IndexFunc(m.decks, func(d domain.Deck) bool { return d.ID == id })
	if i < 0 {
		return domain.Deck{}, false
	}
	return m.decks[i], true
}

// Cards returns a copy of the cached cards and the deck they belong to.
func (m *Manager) Cards() ([]domain.Card, string) {
	return slices.Clone(m.cards), m.cardsDeckID
}

// Card returns the cached card with id.
func (m *Manager) Card(id string) (domain.Card, bool) {
	i := slices.IndexFunc(m.cards, func(c domain.Card) bool { return c.ID == id })
	if i < 0 {
		return domain.Card{}, false
	}
	return m.cards[i], true
}

// CardsReady reports whether the cards of deckID have been delivered by the
// live subscription.
func (m *Manager) CardsReady(deckID string) bool {
	s, ok := m.reg.Active(CardsForDeck)
	return ok && s.DeckID == deckID && !m.loadingCards
}

// Loading reports the decks and cards loading flags.
func (m *Manager) Loading() (decks, cards bool) {
	return m.loadingDecks, m.loadingCards
}

// Active returns the live scope of kind.
func (m *Manager) Active(kind Kind) (Scope, bool) {
	return m.reg.Active(kind)
}

// Live returns the number of live subscriptions.
func (m *Manager) Live() int {
	return m.reg.Len()
}

func (m *Manager) current(scope Scope, tok Token) bool {
	if m.reg.Current(scope, tok) {
		return true
	}
	m.log.Debug("dropping stale delivery", "scope", scope.String(), "token", uint64(tok))
	return false
}

func (m *Manager) changed() {
	if m.hooks.Changed != nil {
		m.hooks.Changed()
	}
}

func report(sink ErrorSink, err error) {
	if sink != nil {
		sink(err)
	}
}
