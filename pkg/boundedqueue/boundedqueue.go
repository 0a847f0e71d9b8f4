// Package boundedqueue implements a bounded FIFO queue safe for any number of
// producers and consumers.
//
// Coordination uses two counting semaphores. One counts free slots and blocks
// producers when the queue is full. The other counts stored items and blocks
// consumers when it is empty. A mutex protects the buffer itself, and is only
// held while an item is appended or removed.
package boundedqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/blackhawk42/permits/pkg/semaphore"
)

// ErrInvalidCapacity is returned by New when the capacity is less than 1.
var ErrInvalidCapacity = errors.New("boundedqueue: invalid capacity")

// Queue is a bounded FIFO queue of values of type T.
//
// After creation with New, Put and Take can be called from any goroutine.
type Queue[T any] struct {
	capacity int
	slots    *semaphore.Semaphore
	items    *semaphore.Semaphore

	mu    sync.Mutex
	buf   []T
	head  int
	count int
}

// New creates a new Queue holding at most capacity values.
//
// fair selects the policy of both semaphores: with fair set, blocked producers
// and consumers are served in the order they arrived.
func New[T any](capacity int, fair bool) (*Queue[T], error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}

	slots, err := semaphore.New(capacity, fair)
	if err != nil {
		return nil, err
	}

	items, err := semaphore.New(0, fair)
	if err != nil {
		return nil, err
	}

	return &Queue[T]{
		capacity: capacity,
		slots:    slots,
		items:    items,
		buf:      make([]T, capacity),
	}, nil
}

// Put appends v to the queue, blocking while the queue is full.
//
// If ctx ends first, Put returns the semaphore's interrupted error and the
// queue is unchanged.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	if err := q.slots.Acquire(ctx); err != nil {
		return err
	}

	q.push(v)
	return nil
}

// TryPut appends v only if there is room right now, reporting whether it did.
func (q *Queue[T]) TryPut(v T) bool {
	if !q.slots.TryAcquire() {
		return false
	}

	q.push(v)
	return true
}

// Take removes and returns the oldest value, blocking while the queue is empty.
//
// If ctx ends first, Take returns the semaphore's interrupted error and the
// queue is unchanged.
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	if err := q.items.Acquire(ctx); err != nil {
		var zero T
		return zero, err
	}

	return q.pop(), nil
}

// TryTake removes and returns the oldest value only if one is stored right now.
func (q *Queue[T]) TryTake() (T, bool) {
	if !q.items.TryAcquire() {
		var zero T
		return zero, false
	}

	return q.pop(), true
}

// Len returns the number of values currently stored.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.count
}

// Cap returns the maximum number of values the queue can hold.
func (q *Queue[T]) Cap() int {
	return q.capacity
}

// push stores v and announces it to consumers. A slot must have been acquired.
func (q *Queue[T]) push(v T) {
	q.mu.Lock()
	q.buf[(q.head+q.count)%q.capacity] = v
	q.count++
	q.mu.Unlock()

	q.items.Release()
}

// pop removes the oldest value and frees its slot. An item must have been
// acquired.
func (q *Queue[T]) pop() T {
	var zero T

	q.mu.Lock()
	v := q.buf[q.head]
	q.buf[q.head] = zero
	q.head = (q.head + 1) % q.capacity
	q.count--
	q.mu.Unlock()

	q.slots.Release()
	return v
}
