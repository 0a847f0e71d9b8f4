package semaphoretest

import (
	"testing"

	"github.com/blackhawk42/permits/pkg/semaphore"
	"github.com/stretchr/testify/assert"
)

func TestArriveWithAvailablePermit(t *testing.T) {
	sem := semaphore.MustNew(1, true)
	h := New(t, sem)

	// A waiter that doesn't need to queue still counts as arrived.
	h.Arrive("fast")
	h.Await(1)
	h.Wait()

	h.CheckOrder("fast")
	assert.Equal(t, 0, sem.Waiting())
}

func TestArriveQueuesInOrder(t *testing.T) {
	sem := semaphore.MustNew(0, true)
	h := New(t, sem)

	h.Arrive("1")
	assert.Equal(t, 1, sem.Waiting())
	h.Arrive("2")
	assert.Equal(t, 2, sem.Waiting())

	h.ReleaseAndAwait()
	h.ReleaseAndAwait()
	h.Wait()

	h.CheckOrder("1", "2")
	assert.Contains(t, h.String(), "grants=[1 2]")
}

func TestBatchedReleasesGrantEveryWaiter(t *testing.T) {
	sem := semaphore.MustNew(0, true)
	h := New(t, sem)

	h.Arrive("1")
	h.Arrive("2")
	h.Arrive("3")

	// Released together, the waiters may return in any order; only the set of
	// granted waiters is known.
	sem.Release()
	sem.Release()
	h.Await(2)
	assert.ElementsMatch(t, []string{"1", "2"}, h.Grants())
	assert.Equal(t, 1, sem.Waiting())

	h.ReleaseAndAwait()
	h.Wait()
	assert.Equal(t, "3", h.Grants()[2])
}

func TestCancelRecordsError(t *testing.T) {
	sem := semaphore.MustNew(0, false)
	h := New(t, sem)

	h.Arrive("gone")
	h.Cancel("gone")

	assert.ErrorIs(t, h.AwaitErr("gone"), semaphore.ErrInterrupted)
	h.Wait()
	assert.Empty(t, h.Grants())
}
