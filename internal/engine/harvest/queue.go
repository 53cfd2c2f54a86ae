package harvest

import (
	"context"
	"errors"
	"time"
)

// ErrQueueTimeout is returned by Put when the queue stayed full for the whole timeout.
var ErrQueueTimeout = errors.New("queue operation timed out")

// Queue is a bounded FIFO safe for any number of producers and consumers.
type Queue[T any] struct {
	ch chan T
}

func NewQueue[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// Put enqueues v, waiting up to timeout for room. A non-positive timeout
// makes a single non-blocking attempt.
func (q *Queue[T]) Put(ctx context.Context, v T, timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case q.ch <- v:
			return nil
		default:
			return ErrQueueTimeout
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case q.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return ErrQueueTimeout
	}
}

// Get dequeues the oldest item, waiting up to timeout. ok is false when nothing
// arrived in time or ctx ended.
func (q *Queue[T]) Get(ctx context.Context, timeout time.Duration) (v T, ok bool) {
	if timeout <= 0 {
		select {
		case v = <-q.ch:
			return v, true
		default:
			return v, false
		}
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case v = <-q.ch:
		return v, true
	case <-ctx.Done():
		return v, false
	case <-t.C:
		return v, false
	}
}

func (q *Queue[T]) Len() int {
	return len(q.ch)
}

func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}
