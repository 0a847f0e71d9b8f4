package semaphore

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidArgument is returned by New when asked for a negative amount of
	// permits.
	ErrInvalidArgument = errors.New("semaphore: invalid argument")

	// ErrInterrupted is returned by Acquire when its context ends before a permit
	// could be obtained. The returned error also wraps the context's error.
	ErrInterrupted = errors.New("semaphore: acquire interrupted")
)

// waiterState tracks a blocked Acquire call.
//
// A waiter goes from arrived to queued, and from there either to granted or to
// cancelled. Under the non-fair policy a queued waiter may be signalled first,
// which only means it should wake up and compete for a permit again.
type waiterState int

const (
	stateArrived waiterState = iota
	stateQueued
	stateSignalled
	stateGranted
	stateCancelled
)

// waiter is one blocked call to Acquire.
type waiter struct {
	ready chan struct{}
	elem  *list.Element
	state waiterState
}

// Semaphore is a counting semaphore with a selectable fairness policy.
//
// A fair Semaphore grants permits to blocked callers strictly in the order they
// arrived, and a new caller never takes a permit while someone is queued. A
// non-fair Semaphore lets any caller take an available permit, even ahead of
// callers that have been waiting longer.
//
// All state is guarded by a single mutex that is never held while a caller is
// blocked. A Semaphore must not be copied after first use.
type Semaphore struct {
	mu      sync.Mutex
	fair    bool
	permits int
	waiters list.List

	// Non-fair only: waiters signalled that haven't yet re-checked for a permit.
	woken int
}

// New creates a new Semaphore with the given amount of initially available
// permits and fairness policy.
func New(permits int, fair bool) (*Semaphore, error) {
	if permits < 0 {
		return nil, fmt.Errorf("%w: negative permits (%d)", ErrInvalidArgument, permits)
	}

	return &Semaphore{
		fair:    fair,
		permits: permits,
	}, nil
}

// MustNew is like New, but panics if the arguments are invalid.
func MustNew(permits int, fair bool) *Semaphore {
	s, err := New(permits, fair)
	if err != nil {
		panic(err)
	}

	return s
}

// Acquire obtains one permit, blocking until one is available.
//
// If ctx ends before a permit is obtained, Acquire returns an error matching
// both ErrInterrupted and ctx.Err(), and the semaphore is left as if the call
// never happened. A context that is already done fails immediately, even if a
// permit is available.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if !s.acquire(ctx.Done()) {
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	}

	return nil
}

// AcquireUninterruptibly obtains one permit, blocking until one is available.
// It cannot be cancelled.
func (s *Semaphore) AcquireUninterruptibly() {
	// A nil channel never becomes ready, so the wait can only end with a permit.
	s.acquire(nil)
}

// TryAcquire obtains a permit only if one is available right now, reporting
// whether it did. A fair Semaphore refuses while anybody is queued.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tryAcquireLocked()
}

// Release returns a permit, waking blocked callers as needed.
//
// Release never blocks. Releasing more times than acquiring is allowed: the
// extra permits simply accumulate.
func (s *Semaphore) Release() {
	s.mu.Lock()
	s.permits++
	s.notifyWaitersLocked()
	s.mu.Unlock()
}

// Available returns the number of permits that can be acquired right now.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.permits
}

// Waiting returns the number of callers queued for a permit.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.waiters.Len()
}

// Fair reports whether s grants permits in arrival order.
func (s *Semaphore) Fair() bool {
	return s.fair
}

// String returns a human-readable representation of the semaphore's state, as
// in "Semaphore(fair, available=1, waiting=0)".
func (s *Semaphore) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy := "non-fair"
	if s.fair {
		policy = "fair"
	}

	return fmt.Sprintf("Semaphore(%s, available=%d, waiting=%d)", policy, s.permits, s.waiters.Len())
}

// acquire does the actual work of Acquire and AcquireUninterruptibly. It
// reports false if done was closed before a permit was obtained.
func (s *Semaphore) acquire(done <-chan struct{}) bool {
	select {
	case <-done:
		return false
	default:
	}

	s.mu.Lock()
	if s.tryAcquireLocked() {
		s.mu.Unlock()
		return true
	}

	w := &waiter{state: stateArrived}
	s.enqueueLocked(w, false)
	ready := w.ready
	s.mu.Unlock()

	for {
		select {
		case <-ready:
			if s.fair {
				// The permit was handed over by notifyWaitersLocked.
				return true
			}

			s.mu.Lock()
			s.woken--
			if s.permits > 0 {
				s.permits--
				w.state = stateGranted
				s.mu.Unlock()
				return true
			}

			// Someone barged in between the wake-up and now. Go back to the front.
			s.enqueueLocked(w, true)
			ready = w.ready
			s.mu.Unlock()

		case <-done:
			s.mu.Lock()
			s.cancelLocked(w)
			s.mu.Unlock()
			return false
		}
	}
}

// tryAcquireLocked is the fast path shared by every acquisition. s.mu must be
// held.
func (s *Semaphore) tryAcquireLocked() bool {
	if s.permits == 0 {
		return false
	}

	if s.fair && s.waiters.Len() > 0 {
		return false
	}

	s.permits--
	return true
}

// enqueueLocked puts w in the wait queue with a fresh ready channel. s.mu must
// be held.
func (s *Semaphore) enqueueLocked(w *waiter, front bool) {
	w.ready = make(chan struct{})
	if front {
		w.elem = s.waiters.PushFront(w)
	} else {
		w.elem = s.waiters.PushBack(w)
	}
	w.state = stateQueued
}

// cancelLocked takes w out of the semaphore's bookkeeping after its caller gave
// up. A permit or wake-up already given to w is passed on to the next waiter.
// s.mu must be held.
func (s *Semaphore) cancelLocked(w *waiter) {
	switch w.state {
	case stateGranted:
		s.permits++
	case stateSignalled:
		s.woken--
	case stateQueued:
		s.waiters.Remove(w.elem)
	}
	w.elem = nil
	w.state = stateCancelled

	s.notifyWaitersLocked()
}

// notifyWaitersLocked wakes queued waiters from the head of the queue while
// there are permits for them. s.mu must be held.
//
// A fair semaphore hands each permit directly to the head waiter, so nobody can
// take it in between. A non-fair semaphore only signals the head waiter, which
// then has to race for the permit with any new arrivals.
func (s *Semaphore) notifyWaitersLocked() {
	for front := s.waiters.Front(); front != nil; front = s.waiters.Front() {
		w := front.Value.(*waiter)

		if s.fair {
			if s.permits == 0 {
				return
			}
			s.permits--
			w.state = stateGranted
		} else {
			if s.permits <= s.woken {
				return
			}
			s.woken++
			w.state = stateSignalled
		}

		s.waiters.Remove(front)
		w.elem = nil
		close(w.ready)
	}
}
