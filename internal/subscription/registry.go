// Package subscription keeps one live store listener per scope and the cached
// collections those listeners feed.
package subscription

import (
	"fmt"

	"github.com/conorfennell/knoldeck/internal/domain"
)

// Kind is a logical subscription target. Each kind holds at most one live
// subscription.
type Kind int

const (
	AuthState Kind = iota
	DecksForUser
	CardsForDeck
)

func (k Kind) String() string {
	switch k {
	case AuthState:
		return "auth"
	case DecksForUser:
		return "decks"
	case CardsForDeck:
		return "cards"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Scope is a subscription target value. DeckID is set for CardsForDeck only.
type Scope struct {
	Kind   Kind
	DeckID string
}

// Auth is the auth-state scope.
func Auth() Scope { return Scope{Kind: AuthState} }

// Decks is the decks-for-user scope.
func Decks() Scope { return Scope{Kind: DecksForUser} }

// Cards is the cards-for-deck scope of deckID.
func Cards(deckID string) Scope { return Scope{Kind: CardsForDeck, DeckID: deckID} }

func (s Scope) String() string {
	if s.Kind == CardsForDeck {
		return "cards(" + s.DeckID + ")"
	}
	return s.Kind.String()
}

// Token identifies one start of a scope. Tokens are never reused.
type Token uint64

type slot struct {
	scope Scope
	token Token
	reg   domain.Registration
}

// Registry maps each kind to its live subscription. It is not safe for
// concurrent use; callers serialize access.
type Registry struct {
	slots map[Kind]*slot
	last  Token
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{slots: make(map[Kind]*slot)}
}

// Start cancels any live subscription of the same kind, then registers a new
// one via open. open receives the new token, which callbacks must present to
// Current before applying anything.
func (r *Registry) Start(scope Scope, open func(Token) domain.Registration) Token {
	r.Stop(scope.Kind)

	r.last++
	s := &slot{scope: scope, token: r.last}
	r.slots[scope.Kind] = s
	reg := open(s.token)

	// open may have stopped or replaced the slot through a synchronous callback.
	if cur, ok := r.slots[scope.Kind]; ok && cur == s {
		s.reg = reg
	} else if reg != nil {
		reg.Remove()
	}
	return s.token
}

// Stop cancels the live subscription of kind. It reports whether one existed.
func (r *Registry) Stop(kind Kind) bool {
	s, ok := r.slots[kind]
	if !ok {
		return false
	}
	delete(r.slots, kind)
	if s.reg != nil {
		s.reg.Remove()
	}
	return true
}

// Current reports whether tok is the live token of scope.
func (r *Registry) Current(scope Scope, tok Token) bool {
	s, ok := r.slots[scope.Kind]
	return ok && s.token == tok && s.scope == scope
}

// Active returns the live scope of kind.
func (r *Registry) Active(kind Kind) (Scope, bool) {
	s, ok := r.slots[kind]
	if !ok {
		return Scope{}, false
	}
	return s.scope, true
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	return len(r.slots)
}
