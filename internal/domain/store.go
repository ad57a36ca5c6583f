package domain

import "context"

// Registration is a live store listener. Remove stops further emissions and
// returns only once no callback for it is running. It is safe to call twice.
type Registration interface {
	Remove()
}

// Query selects what a subscription lists.
type Query struct {
	UID    string
	DeckID string // cards only
}

// Collection names a store collection under a principal.
type Collection string

const (
	Decks Collection = "decks"
	Cards Collection = "cards"
)

// Path addresses a document. ID is empty for inserts.
type Path struct {
	UID        string
	Collection Collection
	ID         string
}

func (p Path) String() string {
	s := "users/" + p.UID + "/" + string(p.Collection)
	if p.ID != "" {
		s += "/" + p.ID
	}
	return s
}

// Op is a mutation kind.
type Op int

const (
	Insert Op = iota
	Update
	Delete
)

func (o Op) String() string {
	switch o {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	}
	return "unknown"
}

func (o Op) verb() string {
	switch o {
	case Insert:
		return "Add"
	case Update:
		return "Update"
	case Delete:
		return "Delete"
	}
	return "Write"
}

// Mutation is a single write. Deck or Card carries the payload matching
// Path.Collection; deletes carry none.
type Mutation struct {
	Path Path
	Op   Op
	Deck *Deck
	Card *Card
}

// Result is the outcome of a mutation. ID is the document id, assigned by the
// store on insert.
type Result struct {
	ID  string
	Err error
}

// Store is the remote document store. Listener callbacks and mutation results
// arrive asynchronously on store-owned goroutines.
type Store interface {
	// ListenAuth emits the current principal and every later change.
	ListenAuth(onChange func(Principal)) Registration
	// ListenDecks emits the principal's decks in creation order until removed.
	ListenDecks(q Query, onItems func([]Deck), onError func(error)) Registration
	// ListenCards emits the cards of q.DeckID until removed.
	ListenCards(q Query, onItems func([]Card), onError func(error)) Registration
	// Mutate applies m and delivers exactly one Result on the returned channel.
	// Deleting a deck also deletes its cards.
	Mutate(ctx context.Context, m Mutation) <-chan Result
}
