// Package semaphore provides a counting semaphore with a fairness policy chosen
// at construction.
//
// # Fairness
//
// A fair semaphore grants permits to blocked callers in exactly the order they
// arrived. When a permit is released it is handed to the oldest waiter, so a
// caller arriving later can never take it first.
//
// A non-fair semaphore makes no ordering promises. A released permit is
// offered to a waiter, but any caller reaching Acquire or TryAcquire in the
// meantime may take it ("barging"). The waiter that lost simply goes back to
// the front of the queue. Non-fair semaphores trade ordering for throughput,
// since a running goroutine taking a permit is cheaper than waking a parked
// one.
//
// # Cancellation
//
// Acquire takes a context.Context and gives up when it ends, returning an error
// that matches ErrInterrupted. Deadlines and timeouts are expressed the same
// way, through context.WithTimeout and context.WithDeadline.
// AcquireUninterruptibly never gives up.
//
// A permit handed to a waiter whose context ends at the same moment is never
// lost: if the waiter reports the interruption, the permit goes to the next
// waiter in line.
//
// # Usage
//
//	sem := semaphore.MustNew(4, true)
//
//	if err := sem.Acquire(ctx); err != nil {
//		return err
//	}
//	defer sem.Release()
package semaphore
