// Package serial runs tasks one at a time, in submission order, on a single goroutine.
package serial

import "sync"

// Queue is an unbounded FIFO of tasks drained by one goroutine. Post never
// blocks, so a task may post further tasks.
type Queue struct {
	mu     sync.Mutex
	tasks  []func()
	closed bool
	wake   chan struct{}
	quit   chan struct{}
	done   chan struct{}
}

// New starts a queue.
func New() *Queue {
	q := &Queue{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// Post schedules fn. It reports false if the queue is closed.
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Close drops pending tasks and waits for a running task to return. No task
// starts after Close returns. Close must not be called from a task.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.tasks = nil
	q.mu.Unlock()

	close(q.quit)
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			return
		case <-q.wake:
		}
		for {
			fn, ok := q.next()
			if !ok {
				break
			}
			fn()
		}
	}
}

func (q *Queue) next() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.tasks) == 0 {
		return nil, false
	}
	fn := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return fn, true
}
