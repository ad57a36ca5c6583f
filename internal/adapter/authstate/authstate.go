// Package authstate broadcasts the signed-in principal to store listeners.
package authstate

import (
	"sync"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/serial"
)

// State holds the current principal. Each listener gets its own delivery queue
// so changes arrive in order.
type State struct {
	mu        sync.Mutex
	current   domain.Principal
	listeners map[*listener]struct{}
}

type listener struct {
	q        *serial.Queue
	onChange func(domain.Principal)
	state    *State
	once     sync.Once
}

// New returns a state with the given initial principal.
func New(initial domain.Principal) *State {
	return &State{current: initial, listeners: make(map[*listener]struct{})}
}

// Current returns the signed-in principal.
func (s *State) Current() domain.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set changes the principal and notifies listeners if it differs.
func (s *State) Set(p domain.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == s.current {
		return
	}
	s.current = p
	for l := range s.listeners {
		l.post(p)
	}
}

// Listen registers onChange and emits the current principal to it.
func (s *State) Listen(onChange func(domain.Principal)) domain.Registration {
	l := &listener{q: serial.New(), onChange: onChange, state: s}

	s.mu.Lock()
	s.listeners[l] = struct{}{}
	l.post(s.current)
	s.mu.Unlock()
	return l
}

func (l *listener) post(p domain.Principal) {
	l.q.Post(func() { l.onChange(p) })
}

// Remove implements domain.Registration.
func (l *listener) Remove() {
	l.once.Do(func() {
		l.state.mu.Lock()
		delete(l.state.listeners, l)
		l.state.mu.Unlock()
	})
	l.q.Close()
}
