package app

import (
	"fmt"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/review"
	"github.com/conorfennell/knoldeck/internal/scheduler"
	"github.com/conorfennell/knoldeck/internal/subscription"
)

// Status messages recorded after a store write succeeds.
const (
	StatusDeckAdded   = "Deck added!"
	StatusDeckUpdated = "Deck updated!"
	StatusDeckDeleted = "Deck and cards Deleted!"
	StatusCardAdded   = "Card added!"
	StatusCardUpdated = "Card updated!"
	StatusCardDeleted = "Card Deleted!"
	StatusSignedOut   = "Signed Out!"
)

// StartDecks subscribes to the principal's decks.
func (c *Core) StartDecks() error {
	return c.call(func() error {
		c.errMsg = ""
		return c.subs.StartDecks(c.reportError)
	})
}

// StopDecks drops the decks subscription.
func (c *Core) StopDecks() error {
	return c.call(func() error {
		c.subs.StopDecks()
		return nil
	})
}

// StartCards subscribes to the cards of deckID, replacing any other deck's
// subscription. A review session of another deck ends.
func (c *Core) StartCards(deckID string) error {
	return c.call(func() error {
		if c.session != nil && c.session.DeckID() != deckID {
			c.endSession("deck switch")
		}
		c.errMsg = ""
		return c.subs.StartCards(deckID, c.reportError)
	})
}

// StopCards drops the cards subscription and any review session with it.
func (c *Core) StopCards() error {
	return c.call(func() error {
		c.endSession("cards stopped")
		c.subs.StopCards()
		return nil
	})
}

// AddDeck creates a deck for the signed-in principal.
func (c *Core) AddDeck(name string) error {
	return c.call(func() error {
		uid, err := c.uid()
		if err != nil {
			return c.fail(err)
		}
		name, err := c.deckName(name, "")
		if err != nil {
			return c.fail(err)
		}
		c.write(domain.Mutation{
			Path: domain.Path{UID: uid, Collection: domain.Decks},
			Op:   domain.Insert,
			Deck: &domain.Deck{Name: name},
		}, StatusDeckAdded)
		return nil
	})
}

// RenameDeck changes the name of deck id.
func (c *Core) RenameDeck(id, name string) error {
	return c.call(func() error {
		uid, err := c.uid()
		if err != nil {
			return c.fail(err)
		}
		deck, ok := c.subs.Deck(id)
		if !ok {
			return c.fail(fmt.Errorf("deck %s: %w", id, domain.ErrNotFound))
		}
		name, err := c.deckName(name, id)
		if err != nil {
			return c.fail(err)
		}
		deck.Name = name
		c.write(domain.Mutation{
			Path: domain.Path{UID: uid, Collection: domain.Decks, ID: id},
			Op:   domain.Update,
			Deck: &deck,
		}, StatusDeckUpdated)
		return nil
	})
}

// DeleteDeck removes deck id together with its cards.
func (c *Core) DeleteDeck(id string) error {
	return c.call(func() error {
		uid, err := c.uid()
		if err != nil {
			return c.fail(err)
		}
		if _, ok := c.subs.Deck(id); !ok {
			return c.fail(fmt.Errorf("deck %s: %w", id, domain.ErrNotFound))
		}
		c.write(domain.Mutation{
			Path: domain.Path{UID: uid, Collection: domain.Decks, ID: id},
			Op:   domain.Delete,
		}, StatusDeckDeleted)
		return nil
	})
}

// AddCard creates a card in deckID, due today with a one day interval.
func (c *Core) AddCard(deckID, front, back string) error {
	return c.call(func() error {
		uid, err := c.uid()
		if err != nil {
			return c.fail(err)
		}
		if _, ok := c.subs.Deck(deckID); !ok {
			return c.fail(fmt.Errorf("deck %s: %w", deckID, domain.ErrNotFound))
		}
		front, back, err := c.cardContent(deckID, front, back, "")
		if err != nil {
			return c.fail(err)
		}
		card := domain.NewCard(deckID, front, back, c.now())
		c.write(domain.Mutation{
			Path: domain.Path{UID: uid, Collection: domain.Cards},
			Op:   domain.Insert,
			Card: &card,
		}, StatusCardAdded)
		return nil
	})
}

// UpdateCard edits the front and back of card id. The schedule fields of the
// cached card are kept; only rating a card moves its due date.
func (c *Core) UpdateCard(id string, card domain.Card) error {
	return c.call(func() error {
		uid, err := c.uid()
		if err != nil {
			return c.fail(err)
		}
		cached, ok := c.subs.Card(id)
		if !ok {
			return c.fail(fmt.Errorf("card %s: %w", id, domain.ErrNotFound))
		}
		front, back, err := c.cardContent(cached.DeckID, card.Front, card.Back, id)
		if err != nil {
			return c.fail(err)
		}
		cached.Front, cached.Back = front, back
		c.subs.PatchCard(cached)
		c.write(domain.Mutation{
			Path: domain.Path{UID: uid, Collection: domain.Cards, ID: id},
			Op:   domain.Update,
			Card: &cached,
		}, StatusCardUpdated)
		return nil
	})
}

// DeleteCard removes card id.
func (c *Core) DeleteCard(id string) error {
	return c.call(func() error {
		uid, err := c.uid()
		if err != nil {
			return c.fail(err)
		}
		if _, ok := c.subs.Card(id); !ok {
			return c.fail(fmt.Errorf("card %s: %w", id, domain.ErrNotFound))
		}
		c.write(domain.Mutation{
			Path: domain.Path{UID: uid, Collection: domain.Cards, ID: id},
			Op:   domain.Delete,
		}, StatusCardDeleted)
		return nil
	})
}

// EnterReview starts a review session of deckID. The session is built from
// the deck's cards as soon as they are delivered.
func (c *Core) EnterReview(deckID string) error {
	return c.call(func() error {
		if _, err := c.uid(); err != nil {
			return c.fail(err)
		}
		if _, ok := c.subs.Deck(deckID); !ok {
			return c.fail(fmt.Errorf("deck %s: %w", deckID, domain.ErrNotFound))
		}
		if s, ok := c.subs.Active(subscription.CardsForDeck); !ok || s.DeckID != deckID {
			if err := c.subs.StartCards(deckID, c.reportError); err != nil {
				return c.fail(err)
			}
		}
		c.session = review.New(deckID)
		if c.subs.CardsReady(deckID) {
			cards, _ := c.subs.Cards()
			c.cardsDelivered(deckID, cards)
		}
		c.notify()
		return nil
	})
}

// ExitReview ends the review session. The cards subscription stays.
func (c *Core) ExitReview() error {
	return c.call(func() error {
		c.endSession("exit")
		c.notify()
		return nil
	})
}

// Rate schedules the session card with key and persists it. The queue moves
// on without waiting for the store.
func (c *Core) Rate(key string, r scheduler.Rating) error {
	return c.call(func() error {
		uid, err := c.uid()
		if err != nil {
			return c.fail(err)
		}
		if c.session == nil {
			return c.fail(fmt.Errorf("review session: %w", domain.ErrNotFound))
		}
		updated, err := c.session.Rate(key, r, c.now())
		if err != nil {
			return c.fail(err)
		}
		c.subs.PatchCard(updated)
		c.write(domain.Mutation{
			Path: domain.Path{UID: uid, Collection: domain.Cards, ID: updated.ID},
			Op:   domain.Update,
			Card: &updated,
		}, StatusCardUpdated)
		c.notify()
		return nil
	})
}

// RestartSession rebuilds the session from the deck's current cards. Before
// the first delivery it keeps waiting.
func (c *Core) RestartSession() error {
	return c.call(func() error {
		if c.session == nil {
			return c.fail(fmt.Errorf("review session: %w", domain.ErrNotFound))
		}
		deckID := c.session.DeckID()
		if !c.subs.CardsReady(deckID) {
			return nil
		}
		cards, _ := c.subs.Cards()
		c.session.Restart(cards, c.now())
		c.log.Info("review session restarted", "deck", deckID, "queued", len(c.session.Queue()))
		c.notify()
		return nil
	})
}

// SignOut ends the principal's session. Every data subscription stops and
// the caches are cleared.
func (c *Core) SignOut() error {
	return c.call(func() error {
		if so, ok := c.store.(SignOuter); ok {
			so.SignOut()
		}
		c.subs.SetPrincipal(domain.Principal{})
		c.errMsg = ""
		c.setStatus(StatusSignedOut)
		return nil
	})
}

func (c *Core) endSession(reason string) {
	if c.session == nil {
		return
	}
	c.log.Info("review session ended", "deck", c.session.DeckID(), "reason", reason)
	c.session = nil
}
