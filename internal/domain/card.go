// Package domain contains the decks, cards and the store port the core consumes.
package domain

import "time"

// DateLayout is the calendar date format used for due and review dates.
// Dates must be zero-padded so that lexicographic order matches date order.
const DateLayout = "2006-01-02"

// Deck is a named collection of cards owned by a principal.
type Deck struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Card is a single front/back entry with its review schedule.
type Card struct {
	ID           string `json:"id"`
	DeckID       string `json:"deckId"`
	Front        string `json:"front"`
	Back         string `json:"back"`
	IntervalDays int    `json:"intervalDays"`
	DueDate      string `json:"dueDate"`
	LastReviewed string `json:"lastReviewed,omitempty"` // empty when never reviewed
}

// NewCard returns a card that is due today and has never been reviewed.
func NewCard(deckID, front, back string, today time.Time) Card {
	return Card{
		DeckID:       deckID,
		Front:        front,
		Back:         back,
		IntervalDays: 1,
		DueDate:      FormatDate(today),
	}
}

// FormatDate renders the calendar date of t.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a calendar date string as midnight UTC.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// Principal identifies the signed-in account. The zero value means logged out.
type Principal struct {
	UID   string `json:"uid"`
	Email string `json:"email,omitempty"`
}

// LoggedIn reports whether p refers to an account.
func (p Principal) LoggedIn() bool {
	return p.UID != ""
}
