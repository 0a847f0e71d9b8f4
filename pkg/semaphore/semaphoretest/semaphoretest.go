// Package semaphoretest provides a deterministic arrival-order harness for
// testing semaphore fairness.
//
// Goroutines calling Acquire race each other, so the order in which they get
// queued is normally up to the scheduler. A [Harness] removes that race: each
// call to [Harness.Arrive] starts one waiter and returns only once that waiter
// is either holding a permit or sitting in the semaphore's wait queue. Waiters
// therefore arrive in exactly the order the test calls Arrive.
//
// # Example Usage
//
//	sem := semaphore.MustNew(0, true)
//	h := semaphoretest.New(t, sem)
//	h.Arrive("w1")
//	h.Arrive("w2")
//
//	h.ReleaseAndAwait()
//	h.ReleaseAndAwait()
//	h.CheckOrder("w1", "w2")
//
// A waiter is recorded when its goroutine returns from the acquire call, which
// is up to the scheduler. Permits released back to back may be handed out in
// one order and recorded in another; [Harness.ReleaseAndAwait] releases a
// single permit and waits for its grant, so the recorded order matches the
// order the semaphore granted in.
//
// A granted waiter is considered a holder until the test releases a permit
// itself.
package semaphoretest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/blackhawk42/permits/pkg/semaphore"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Patience is how long the harness waits for a waiter to arrive or for grants
// to happen before failing the test.
var Patience = 5 * time.Second

const pollInterval = time.Millisecond

// Harness drives waiters on a single semaphore in a fixed arrival order and
// records which of them were granted permits.
type Harness struct {
	t   testing.TB
	sem *semaphore.Semaphore

	// Tokens of waiters that have been started, to reject duplicates.
	tokens mapset.Set[string]

	mu      sync.Mutex
	grants  []string
	errs    map[string]error
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// New creates a Harness for sem.
//
// The test must not release permits or start other acquirers while Arrive is
// running, otherwise the queue length can't be used to detect the arrival.
func New(t testing.TB, sem *semaphore.Semaphore) *Harness {
	t.Helper()

	h := &Harness{
		t:       t,
		sem:     sem,
		tokens:  mapset.NewSet[string](),
		errs:    make(map[string]error),
		cancels: make(map[string]context.CancelFunc),
	}
	t.Cleanup(h.cancelAll)

	return h
}

// Arrive starts a waiter identified by token calling Acquire, and blocks until
// it holds a permit or is queued.
func (h *Harness) Arrive(token string) {
	h.t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	h.arrive(token, cancel, func() error {
		return h.sem.Acquire(ctx)
	})
}

// ArriveUninterruptibly is like Arrive, but the waiter calls
// AcquireUninterruptibly. Cancel is accepted for such a waiter but has no
// effect on it.
func (h *Harness) ArriveUninterruptibly(token string) {
	h.t.Helper()

	h.arrive(token, func() {}, func() error {
		h.sem.AcquireUninterruptibly()
		return nil
	})
}

func (h *Harness) arrive(token string, cancel context.CancelFunc, acquire func() error) {
	h.t.Helper()

	if !h.tokens.Add(token) {
		cancel()
		h.t.Fatalf("semaphoretest: waiter %s arrived twice", token)
	}

	h.mu.Lock()
	h.cancels[token] = cancel
	h.mu.Unlock()

	queued := h.sem.Waiting()
	granted := h.grantCount()
	returned := make(chan struct{})

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer close(returned)

		err := acquire()

		h.mu.Lock()
		defer h.mu.Unlock()
		if err != nil {
			h.errs[token] = err
			return
		}
		h.grants = append(h.grants, token)
	}()

	require.Eventually(h.t, func() bool {
		select {
		case <-returned:
			return true
		default:
		}
		return h.sem.Waiting() > queued || h.grantCount() > granted
	}, Patience, pollInterval, "waiter %s never arrived", token)
}

// Cancel cancels the context of the waiter identified by token.
func (h *Harness) Cancel(token string) {
	h.t.Helper()

	h.mu.Lock()
	cancel, ok := h.cancels[token]
	h.mu.Unlock()

	if !ok {
		h.t.Fatalf("semaphoretest: unknown waiter %s", token)
	}
	cancel()
}

// Await blocks until at least n waiters have been granted a permit.
func (h *Harness) Await(n int) {
	h.t.Helper()

	require.Eventually(h.t, func() bool {
		return h.grantCount() >= n
	}, Patience, pollInterval, "expected %d grants, got %v", n, h.Grants())
}

// ReleaseAndAwait releases one permit and blocks until exactly one more waiter
// has been granted, so grants recorded this way keep their release order.
func (h *Harness) ReleaseAndAwait() {
	h.t.Helper()

	n := h.grantCount() + 1
	h.sem.Release()
	h.Await(n)
	require.Equal(h.t, n, h.grantCount(), "one release granted more than one waiter")
}

// AwaitErr blocks until the waiter identified by token has failed, and returns
// its error.
func (h *Harness) AwaitErr(token string) error {
	h.t.Helper()

	var err error
	require.Eventually(h.t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()

		var ok bool
		err, ok = h.errs[token]
		return ok
	}, Patience, pollInterval, "waiter %s never failed", token)

	return err
}

// Err returns the error of the waiter identified by token, or nil if it has
// not failed (yet).
func (h *Harness) Err(token string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.errs[token]
}

// Grants returns the tokens of the granted waiters, in the order their
// goroutines returned from the acquire call. That is the grant order only for
// permits released one at a time, as ReleaseAndAwait does.
func (h *Harness) Grants() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	grants := make([]string, len(h.grants))
	copy(grants, h.grants)
	return grants
}

// CheckOrder asserts that exactly the given waiters were granted, in order.
func (h *Harness) CheckOrder(want ...string) bool {
	h.t.Helper()

	return assert.Equal(h.t, want, h.Grants(), "grant order")
}

// Wait blocks until every waiter has returned from its acquire call. The test
// has to release enough permits, or cancel the waiters, beforehand.
func (h *Harness) Wait() {
	h.wg.Wait()
}

// String describes the harness state, for failure messages.
func (h *Harness) String() string {
	return fmt.Sprintf("%v grants=%v", h.sem, h.Grants())
}

func (h *Harness) grantCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.grants)
}

func (h *Harness) cancelAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, cancel := range h.cancels {
		cancel()
	}
}
