// Package review runs a review session over a snapshot of a deck's due cards.
package review

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/due"
	"github.com/conorfennell/knoldeck/internal/scheduler"
)

// Phase is the state of a session.
type Phase int

const (
	Uninitialized Phase = iota // waiting for the deck's cards
	Active                     // a card is up
	Exhausted                  // nothing left to review
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Active:
		return "active"
	case Exhausted:
		return "exhausted"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// ErrAlreadyBuilt is returned by Build once the snapshot has been taken.
var ErrAlreadyBuilt = errors.New("review: session already built")

// SessionCard is a queued copy of a card. Key is the card's document id and
// stays stable for the life of the session.
type SessionCard struct {
	Key  string      `json:"key"`
	Card domain.Card `json:"card"`
}

// Session is a review of one deck. It only reads the live card collection in
// Build and Restart; later changes to that collection do not touch the queue.
type Session struct {
	deckID   string
	phase    Phase
	queue    []SessionCard
	total    int
	counters map[scheduler.Rating]int
	message  string
}

// New returns an uninitialized session for deckID.
func New(deckID string) *Session {
	return &Session{deckID: deckID, counters: make(map[scheduler.Rating]int)}
}

// DeckID returns the reviewed deck.
func (s *Session) DeckID() string { return s.deckID }

// Phase returns the current phase.
func (s *Session) Phase() Phase { return s.phase }

// Build takes the session snapshot from the live cards. It may run once.
func (s *Session) Build(live []domain.Card, today time.Time) error {
	if s.phase != Uninitialized {
		return ErrAlreadyBuilt
	}
	s.snapshot(live, today)
	return nil
}

// Restart takes a fresh snapshot from the live cards and resets the counters.
func (s *Session) Restart(live []domain.Card, today time.Time) {
	s.snapshot(live, today)
}

func (s *Session) snapshot(live []domain.Card, today time.Time) {
	cards := due.Cards(live, s.deckID, today)
	s.queue = make([]SessionCard, len(cards))
	for i, c := range cards {
		s.queue[i] = SessionCard{Key: c.ID, Card: c}
	}
	s.total = len(s.queue)
	clear(s.counters)
	s.message = ""
	s.phase = Active
	if len(s.queue) == 0 {
		s.phase = Exhausted
	}
}

// Rate schedules the queued card with key and drops it from the queue. It
// returns the rescheduled card for the caller to persist.
func (s *Session) Rate(key string, r scheduler.Rating, today time.Time) (domain.Card, error) {
	if s.phase != Active {
		return domain.Card{}, fmt.Errorf("session card %s: %w", key, domain.ErrNotFound)
	}
	i := slices.IndexFunc(s.queue, func(sc SessionCard) bool { return sc.Key == key })
	if i < 0 {
		return domain.Card{}, fmt.Errorf("session card %s: %w", key, domain.ErrNotFound)
	}

	updated := scheduler.ApplyRating(s.queue[i].Card, r, today)
	s.queue = slices.Delete(s.queue, i, i+1)
	if !r.IsValid() {
		// scheduled like Good, so counted like Good
		r = scheduler.Good
	}
	s.counters[r]++
	s.message = "Next due: " + updated.DueDate
	if len(s.queue) == 0 {
		s.phase = Exhausted
	}
	return updated, nil
}

// Head returns the card under review.
func (s *Session) Head() (SessionCard, bool) {
	if len(s.queue) == 0 {
		return SessionCard{}, false
	}
	return s.queue[0], true
}

// Queue returns a copy of the remaining cards.
func (s *Session) Queue() []SessionCard {
	return slices.Clone(s.queue)
}

// Progress returns the number of reviewed cards and the snapshot size.
func (s *Session) Progress() (reviewed, total int) {
	return s.total - len(s.queue), s.total
}

// Count returns how many cards got rating r.
func (s *Session) Count(r scheduler.Rating) int {
	return s.counters[r]
}

// View is a read-only copy of a session.
type View struct {
	DeckID   string                   `json:"deckId"`
	Phase    string                   `json:"phase"`
	Head     *SessionCard             `json:"head,omitempty"`
	Reviewed int                      `json:"reviewed"`
	Total    int                      `json:"total"`
	Counters map[scheduler.Rating]int `json:"counters"`
	Message  string                   `json:"message,omitempty"`
}

// View returns a snapshot of the session for display.
func (s *Session) View() View {
	v := View{
		DeckID:   s.deckID,
		Phase:    s.phase.String(),
		Counters: maps.Clone(s.counters),
		Message:  s.message,
	}
	if head, ok := s.Head(); ok {
		v.Head = &head
	}
	v.Reviewed, v.Total = s.Progress()
	return v
}
