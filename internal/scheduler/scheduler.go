// Package scheduler computes the next review interval and due date of a card.
package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
)

// Rating is the reviewer's response to a card.
type Rating int

const (
	Again Rating = iota // forgot; review again tomorrow
	Hard
	Good
	Easy
)

// Ratings lists the valid ratings in ascending order.
var Ratings = []Rating{Again, Hard, Good, Easy}

// ErrInvalidRating is returned by ParseRating for unknown input.
var ErrInvalidRating = errors.New("scheduler: invalid rating")

var ratingNames = [...]string{Again: "Again", Hard: "Hard", Good: "Good", Easy: "Easy"}

// String returns the rating name, or "Rating(n)" for values outside Again..Easy.
func (r Rating) String() string {
	if r.IsValid() {
		return ratingNames[r]
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}

// IsValid reports whether r is one of Again, Hard, Good or Easy.
func (r Rating) IsValid() bool {
	return r >= Again && r <= Easy
}

// MarshalText implements encoding.TextMarshaler.
func (r Rating) MarshalText() ([]byte, error) {
	if !r.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRating, int(r))
	}
	return []byte(ratingNames[r]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Rating) UnmarshalText(text []byte) error {
	v, err := ParseRating(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseRating accepts a rating name (any case) or its ordinal 0-3.
func ParseRating(s string) (Rating, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if r := Rating(n); r.IsValid() {
			return r, nil
		}
		return 0, fmt.Errorf("%w: %q", ErrInvalidRating, s)
	}
	for i, name := range ratingNames {
		if strings.EqualFold(name, s) {
			return Rating(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRating, s)
}

// NextInterval returns the interval in days after rating a card whose current
// interval is intervalDays. Intervals below 1 count as 1. Unknown ratings are
// scheduled like Good.
func NextInterval(intervalDays int, r Rating) int {
	base := max(1, intervalDays)

	switch r {
	case Again:
		return 1
	case Hard:
		return max(1, int(float64(base)*1.2))
	case Good:
		return max(1, int(float64(base)*2.0))
	case Easy:
		return max(2, int(float64(base)*2.5))
	default:
		return max(1, int(float64(base)*2.0))
	}
}

// ApplyRating returns a copy of card rescheduled from today. Only IntervalDays,
// DueDate and LastReviewed change.
func ApplyRating(card domain.Card, r Rating, today time.Time) domain.Card {
	interval := NextInterval(card.IntervalDays, r)

	card.IntervalDays = interval
	card.DueDate = NextDueDate(today, interval)
	card.LastReviewed = domain.FormatDate(today)
	return card
}

// NextDueDate returns the calendar date interval days after today.
func NextDueDate(today time.Time, interval int) string {
	return domain.FormatDate(today.AddDate(0, 0, interval))
}
