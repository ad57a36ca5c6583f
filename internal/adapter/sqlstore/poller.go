package sqlstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/conorfennell/knoldeck/internal/domain"
)

type refresher interface {
	domain.Registration
	refresh()
}

// poller re-runs load on every tick or refresh and delivers the result when
// it differs from the last delivery. The first load is always delivered. A
// failed load is reported once and ends the poller.
type poller[T comparable] struct {
	store   *Store
	load    func(context.Context) ([]T, error)
	onItems func([]T)
	onError func(error)

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func startPoller[T comparable](s *Store, load func(context.Context) ([]T, error), onItems func([]T), onError func(error)) *poller[T] {
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller[T]{
		store:   s,
		load:    load,
		onItems: onItems,
		onError: onError,
		kick:    make(chan struct{}, 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.register(p)
	go p.run(ctx)
	return p
}

func (p *poller[T]) run(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.store.poll)
	defer ticker.Stop()

	var last []T
	first := true
	for {
		items, err := p.load(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			p.store.log.Warn("listener query failed", "error", err)
			if p.onError != nil {
				p.onError(err)
			}
			p.store.unregister(p)
			return
		}
		if first || !slices.Equal(items, last) {
			first = false
			last = items
			p.onItems(slices.Clone(items))
		}

		select {
		case <-ctx.Done():
			return
		case <-p.kick:
		case <-ticker.C:
		}
	}
}

func (p *poller[T]) refresh() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Remove implements domain.Registration. No callback runs after it returns.
func (p *poller[T]) Remove() {
	p.once.Do(func() {
		p.cancel()
		<-p.done
		p.store.unregister(p)
	})
}
