package app

import (
	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/review"
)

// View is a read-only copy of the core's state.
type View struct {
	AuthReady    bool             `json:"authReady"`
	Principal    domain.Principal `json:"principal"`
	Decks        []domain.Deck    `json:"decks"`
	Cards        []domain.Card    `json:"cards"`
	CardsDeckID  string           `json:"cardsDeckId,omitempty"`
	LoadingDecks bool             `json:"loadingDecks"`
	LoadingCards bool             `json:"loadingCards"`
	Session      *review.View     `json:"session,omitempty"`
	Status       string           `json:"status,omitempty"`
	Error        string           `json:"error,omitempty"`

	// WriteErr is the failure of the most recent store write to report back,
	// nil once a later write succeeds. It matches domain.ErrWriteFailed.
	WriteErr error `json:"-"`
}

// Deck returns the deck with id from the view.
func (v View) Deck(id string) (domain.Deck, bool) {
	for _, d := range v.Decks {
		if d.ID == id {
			return d, true
		}
	}
	return domain.Deck{}, false
}

// View returns a snapshot of the current state.
func (c *Core) View() (View, error) {
	var v View
	err := c.do(func() {
		v = View{
			AuthReady: c.subs.AuthKnown(),
			Principal: c.subs.Principal(),
			Decks:     c.subs.Decks(),
			Status:    c.status,
			Error:     c.errMsg,
			WriteErr:  c.lastErr,
		}
		v.Cards, v.CardsDeckID = c.subs.Cards()
		v.LoadingDecks, v.LoadingCards = c.subs.Loading()
		if c.session != nil {
			sv := c.session.View()
			v.Session = &sv
		}
	})
	return v, err
}
