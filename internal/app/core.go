// Package app is the caller-facing core: it owns the subscriptions, cached
// collections and review session, and runs every state change on one goroutine.
package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/knoldeck/internal/domain"
	"github.com/conorfennell/knoldeck/internal/review"
	"github.com/conorfennell/knoldeck/internal/serial"
	"github.com/conorfennell/knoldeck/internal/subscription"
)

// ErrClosed is returned by commands issued after Dispose.
var ErrClosed = errors.New("app: core disposed")

// SignOuter is implemented by stores that can end the principal's session.
type SignOuter interface {
	SignOut()
}

// Core holds the client state of one principal. Construct it with New, call
// Init once, and Dispose when done.
type Core struct {
	store    domain.Store
	loop     *serial.Queue
	log      *slog.Logger
	now      func() time.Time
	validate *validator.Validate

	ctx     context.Context
	cancel  context.CancelFunc
	closing chan struct{}
	once    sync.Once

	mu      sync.Mutex
	changed chan struct{}

	// Owned by the loop goroutine.
	subs    *subscription.Manager
	session *review.Session
	status  string
	errMsg  string
	lastErr error
	pending int
	idle    []chan struct{}
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Core) { c.log = l }
}

// WithClock sets the source of "today".
func WithClock(now func() time.Time) Option {
	return func(c *Core) { c.now = now }
}

// New builds a core over store. Nothing is subscribed until Init.
func New(store domain.Store, opts ...Option) *Core {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Core{
		store:    store,
		loop:     serial.New(),
		log:      slog.Default(),
		now:      time.Now,
		validate: newValidator(),
		ctx:      ctx,
		cancel:   cancel,
		closing:  make(chan struct{}),
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.subs = subscription.NewManager(store, c.post,
		subscription.WithLogger(c.log),
		subscription.WithHooks(subscription.Hooks{
			Changed:        c.notify,
			AuthChanged:    c.authChanged,
			CardsDelivered: c.cardsDelivered,
		}),
	)
	return c
}

// Init starts listening to the auth state. Logging in starts the decks
// subscription.
func (c *Core) Init() error {
	return c.do(func() {
		c.log.Info("core init")
		c.subs.StartAuth(c.reportError)
	})
}

// Dispose stops every subscription and the control loop. Pending write results
// are discarded.
func (c *Core) Dispose() {
	c.once.Do(func() {
		_ = c.do(func() {
			c.subs.StopAll()
			c.session = nil
			c.log.Info("core disposed")
		})
		close(c.closing)
		c.cancel()
		c.loop.Close()
	})
}

func (c *Core) post(fn func()) {
	c.loop.Post(fn)
}

// do runs fn on the loop and waits for it.
func (c *Core) do(fn func()) error {
	done := make(chan struct{})
	if !c.loop.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-c.closing:
		return ErrClosed
	}
}

func (c *Core) call(fn func() error) error {
	var err error
	if e := c.do(func() { err = fn() }); e != nil {
		return e
	}
	return err
}

// Changed returns a channel that is closed at the next state change.
func (c *Core) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

func (c *Core) notify() {
	c.mu.Lock()
	close(c.changed)
	c.changed = make(chan struct{})
	c.mu.Unlock()
}

// WaitFor blocks until ready holds for the current view or ctx ends.
func (c *Core) WaitFor(ctx context.Context, ready func(View) bool) (View, error) {
	for {
		ch := c.Changed()
		v, err := c.View()
		if err != nil {
			return v, err
		}
		if ready(v) {
			return v, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return v, ctx.Err()
		case <-c.closing:
			return v, ErrClosed
		}
	}
}

// Flush waits for every issued write to report back.
func (c *Core) Flush(ctx context.Context) error {
	var idle chan struct{}
	if err := c.do(func() {
		if c.pending > 0 {
			idle = make(chan struct{})
			c.idle = append(c.idle, idle)
		}
	}); err != nil {
		return err
	}
	if idle == nil {
		return nil
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closing:
		return ErrClosed
	}
}

// write issues m and records okStatus or the failure in the status string.
// The session and caches never wait on it.
func (c *Core) write(m domain.Mutation, okStatus string) {
	c.log.Debug("store write", "op", m.Op.String(), "path", m.Path.String())
	result := c.store.Mutate(c.ctx, m)
	c.pending++
	go func() {
		var res domain.Result
		select {
		case res = <-result:
		case <-c.ctx.Done():
			return
		}
		c.post(func() {
			if res.Err != nil {
				err := domain.WriteFailed(m.Op, res.Err)
				c.log.Warn("store write failed", "op", m.Op.String(), "path", m.Path.String(), "error", res.Err)
				c.status = err.Error()
				c.lastErr = err
			} else {
				c.status = okStatus
				c.lastErr = nil
			}
			c.writeDone()
			c.notify()
		})
	}()
}

// writeDone releases the Flush callers once no write is pending.
func (c *Core) writeDone() {
	c.pending--
	if c.pending > 0 {
		return
	}
	for _, ch := range c.idle {
		close(ch)
	}
	c.idle = nil
}

func (c *Core) reportError(err error) {
	c.errMsg = err.Error()
	c.notify()
}

func (c *Core) setStatus(msg string) {
	c.status = msg
	c.notify()
}

func (c *Core) fail(err error) error {
	c.setStatus(err.Error())
	return err
}

func (c *Core) authChanged(prev, next domain.Principal) {
	if c.session != nil {
		c.log.Info("review session dropped", "deck", c.session.DeckID(), "reason", "auth change")
		c.session = nil
	}
	if !next.LoggedIn() {
		c.errMsg = ""
	}
}

func (c *Core) cardsDelivered(deckID string, cards []domain.Card) {
	if c.session == nil || c.session.DeckID() != deckID || c.session.Phase() != review.Uninitialized {
		return
	}
	if err := c.session.Build(cards, c.now()); err != nil {
		c.log.Warn("review session build failed", "deck", deckID, "error", err)
		return
	}
	c.log.Info("review session built", "deck", deckID, "queued", len(c.session.Queue()))
}

func (c *Core) uid() (string, error) {
	p := c.subs.Principal()
	if !p.LoggedIn() {
		return "", domain.ErrNotAuthenticated
	}
	return p.UID, nil
}
