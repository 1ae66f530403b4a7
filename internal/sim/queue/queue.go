// Package queue provides the blocking single-consumer queue every goroutine of
// the engine waits on: the dispatcher inbox, the consumer inboxes and the
// actor resume gate.
package queue

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("queue closed")

// Queue is an unbounded FIFO. Any number of goroutines may Push; exactly one
// goroutine is expected to Pop.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	wake chan struct{}
	done chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Push appends v. It reports false if the queue was closed.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Pop blocks until an item is available, the queue is closed and drained, or
// ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return v, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, ErrClosed
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.wake:
		case <-q.done:
		}
	}
}

// TryPop returns the head without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Gate is a binary latch. Open is idempotent; Wait consumes the open state,
// so one Wait passes per Open no matter how often Open was called.
type Gate struct {
	ch chan struct{}
}

func NewGate() *Gate {
	return &Gate{ch: make(chan struct{}, 1)}
}

func (g *Gate) Open() {
	select {
	case g.ch <- struct{}{}:
	default:
	}
}

func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-g.ch:
		return nil
	}
}
