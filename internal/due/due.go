// Package due selects the cards of a deck that are up for review.
package due

import (
	"slices"
	"strings"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
)

// IsDue reports whether a card with the given due date should be shown on the
// calendar day of today. A due date that does not parse counts as due, so a
// malformed card is surfaced rather than hidden.
func IsDue(dueDate string, today time.Time) bool {
	due, err := domain.ParseDate(dueDate)
	if err != nil {
		return true
	}
	y, m, d := today.Date()
	return !due.After(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// Cards returns the due cards of deckID, earliest due date first. Due dates are
// compared as strings, which matches date order for DateLayout values. Cards
// with equal due dates keep their collection order.
func Cards(all []domain.Card, deckID string, today time.Time) []domain.Card {
	var out []domain.Card
	for _, c := range all {
		if c.DeckID == deckID && IsDue(c.DueDate, today) {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.Card) int {
		return strings.Compare(a.DueDate, b.DueDate)
	})
	return out
}
