package review

import (
	"errors"
	"testing"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/scheduler"
)

var today = time.Date(2024, time.May, 20, 8, 0, 0, 0, time.UTC)

func liveCards() []domain.Card {
	return []domain.Card{
		{ID: "c1", DeckID: "spanish", Front: "uno", Back: "one", IntervalDays: 1, DueDate: "2024-05-20"},
		{ID: "c2", DeckID: "spanish", Front: "dos", Back: "two", IntervalDays: 3, DueDate: "2024-05-01"},
		{ID: "c3", DeckID: "spanish", Front: "tres", Back: "three", IntervalDays: 1, DueDate: "2024-06-01"},
		{ID: "c4", DeckID: "french", Front: "un", Back: "one", IntervalDays: 1, DueDate: "2024-05-01"},
	}
}

func TestNewSessionIsUninitialized(t *testing.T) {
	s := New("spanish")
	if s.Phase() != Uninitialized {
		t.Errorf("Expected uninitialized, but got %s", s.Phase())
	}
	if _, err := s.Rate("c1", scheduler.Good, today); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound before build, but got %v", err)
	}
}

func TestBuildSnapshotsDueCards(t *testing.T) {
	s := New("spanish")
	if err := s.Build(liveCards(), today); err != nil {
		t.Fatalf("Build() returned an unexpected error: %v", err)
	}
	if s.Phase() != Active {
		t.Fatalf("Expected active, but got %s", s.Phase())
	}

	queue := s.Queue()
	if len(queue) != 2 || queue[0].Key != "c2" || queue[1].Key != "c1" {
		t.Fatalf("Expected queue [c2 c1], but got %+v", queue)
	}
	if reviewed, total := s.Progress(); reviewed != 0 || total != 2 {
		t.Errorf("Expected progress 0/2, but got %d/%d", reviewed, total)
	}
	if err := s.Build(liveCards(), today); !errors.Is(err, ErrAlreadyBuilt) {
		t.Errorf("Expected ErrAlreadyBuilt, but got %v", err)
	}
}

func TestQueueIsIsolatedFromLiveChanges(t *testing.T) {
	live := liveCards()
	s := New("spanish")
	if err := s.Build(live, today); err != nil {
		t.Fatalf("Build() returned an unexpected error: %v", err)
	}
	before := s.Queue()

	// A remote update rewrites the live collection underneath the session.
	live[0].Front = "changed"
	live[1].DueDate = "2099-01-01"
	live = append(live, domain.Card{ID: "c5", DeckID: "spanish", DueDate: "2024-01-01"})
	_ = live

	after := s.Queue()
	if len(after) != len(before) {
		t.Fatalf("Expected the queue length to stay %d, but got %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Errorf("Expected queued card %d to be unchanged, but got %+v", i, after[i])
		}
	}
}

func TestRateAdvancesAndCounts(t *testing.T) {
	s := New("spanish")
	if err := s.Build(liveCards(), today); err != nil {
		t.Fatalf("Build() returned an unexpected error: %v", err)
	}

	updated, err := s.Rate("c2", scheduler.Hard, today)
	if err != nil {
		t.Fatalf("Rate() returned an unexpected error: %v", err)
	}
	if updated.IntervalDays != 3 {
		t.Errorf("Expected Hard from 3 to give 3, but got %d", updated.IntervalDays)
	}
	if head, _ := s.Head(); head.Key != "c1" {
		t.Errorf("Expected c1 to be up next, but got %s", head.Key)
	}
	if s.Count(scheduler.Hard) != 1 {
		t.Errorf("Expected one Hard, but got %d", s.Count(scheduler.Hard))
	}
	if v := s.View(); v.Message != "Next due: 2024-05-23" {
		t.Errorf("Expected next due message, but got %q", v.Message)
	}

	t.Run("Double submit is rejected", func(t *testing.T) {
		if _, err := s.Rate("c2", scheduler.Good, today); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, but got %v", err)
		}
		if s.Count(scheduler.Good) != 0 {
			t.Error("Expected a rejected rating not to be counted")
		}
	})

	if _, err := s.Rate("c1", scheduler.Easy, today); err != nil {
		t.Fatalf("Rate() returned an unexpected error: %v", err)
	}
	if s.Phase() != Exhausted {
		t.Errorf("Expected exhausted, but got %s", s.Phase())
	}
	if reviewed, total := s.Progress(); reviewed != 2 || total != 2 {
		t.Errorf("Expected progress 2/2, but got %d/%d", reviewed, total)
	}
	if _, ok := s.Head(); ok {
		t.Error("Expected no head card once exhausted")
	}
}

func TestRestart(t *testing.T) {
	s := New("spanish")
	if err := s.Build(liveCards(), today); err != nil {
		t.Fatalf("Build() returned an unexpected error: %v", err)
	}
	if _, err := s.Rate("c2", scheduler.Again, today); err != nil {
		t.Fatalf("Rate() returned an unexpected error: %v", err)
	}

	t.Run("Picks up live changes and resets counters", func(t *testing.T) {
		live := liveCards()
		live[2].DueDate = "2024-05-19"
		s.Restart(live, today)

		if s.Phase() != Active {
			t.Errorf("Expected active, but got %s", s.Phase())
		}
		if got := len(s.Queue()); got != 3 {
			t.Errorf("Expected 3 queued cards, but got %d", got)
		}
		if s.Count(scheduler.Again) != 0 {
			t.Error("Expected counters to be reset")
		}
		if v := s.View(); v.Message != "" || v.Reviewed != 0 || v.Total != 3 {
			t.Errorf("Expected a fresh view, but got %+v", v)
		}
	})

	t.Run("Restart while active rebuilds", func(t *testing.T) {
		s.Restart(liveCards(), today)
		if got := len(s.Queue()); got != 2 {
			t.Errorf("Expected 2 queued cards, but got %d", got)
		}
	})

	t.Run("Nothing due leaves the session exhausted", func(t *testing.T) {
		s.Restart([]domain.Card{{ID: "x", DeckID: "spanish", DueDate: "2099-01-01"}}, today)
		if s.Phase() != Exhausted {
			t.Errorf("Expected exhausted, but got %s", s.Phase())
		}
		if _, ok := s.Head(); ok {
			t.Error("Expected no head card")
		}
	})
}

func TestEmptyBuildIsExhausted(t *testing.T) {
	s := New("german")
	if err := s.Build(liveCards(), today); err != nil {
		t.Fatalf("Build() returned an unexpected error: %v", err)
	}
	if s.Phase() != Exhausted {
		t.Errorf("Expected exhausted, but got %s", s.Phase())
	}
}

func TestInvalidRatingCountsAsGood(t *testing.T) {
	s := New("spanish")
	if err := s.Build(liveCards(), today); err != nil {
		t.Fatalf("Build() returned an unexpected error: %v", err)
	}
	updated, err := s.Rate("c2", scheduler.Rating(42), today)
	if err != nil {
		t.Fatalf("Rate() returned an unexpected error: %v", err)
	}
	if updated.IntervalDays != 6 {
		t.Errorf("Expected the Good interval 6, but got %d", updated.IntervalDays)
	}
	if s.Count(scheduler.Good) != 1 {
		t.Errorf("Expected the rating to be counted as Good, but got %d", s.Count(scheduler.Good))
	}
}
