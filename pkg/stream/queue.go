package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Pop once a closed queue has been drained
var ErrClosed = errors.New("stream closed")

// Queue is an unbounded FIFO between one producer and one consumer. Push
// never blocks; Pop suspends while the queue is empty and still open.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	err    error
	ready  chan struct{}
}

// NewQueue creates an open, empty queue
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

func (q *Queue[T]) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Push appends v. Pushing to a closed queue drops v and reports false.
func (q *Queue[T]) Push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.wake()
	return true
}

// Close marks the producer finished. A non-nil err is returned by Pop once
// the buffered items are drained. Only the first Close has any effect.
func (q *Queue[T]) Close(err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.err = err
	q.mu.Unlock()
	q.wake()
}

// Pop removes the oldest item. It returns ErrClosed, or the producer's
// error, once the queue is closed and empty, and ctx.Err() when ctx ends
// first.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.items[0]
			q.items[0] = zero
			q.items = q.items[1:]
			more := len(q.items) > 0 || q.closed
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return v, nil
		}
		if q.closed {
			err := q.err
			q.mu.Unlock()
			q.wake()
			if err == nil {
				err = ErrClosed
			}
			return zero, err
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Len returns the number of buffered items
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Closed reports whether the producer has finished
func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
