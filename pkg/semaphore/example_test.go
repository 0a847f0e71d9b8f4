package semaphore_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blackhawk42/permits/pkg/semaphore"
)

func Example() {
	sem := semaphore.MustNew(2, true)
	fmt.Println("Created:", sem)

	ctx := context.Background()

	// You should always pair Acquire with a deferred Release, so the permit is
	// returned even if your code panics.
	if err := sem.Acquire(ctx); err != nil {
		fmt.Println("Acquire failed:", err)
		return
	}
	defer sem.Release()
	fmt.Println("After acquiring first permit:", sem)

	// TryAcquire lets you handle the "too busy" case without blocking.
	if sem.TryAcquire() {
		fmt.Println("After acquiring second permit:", sem)
		sem.Release()
	}

	// Output:
	// Created: Semaphore(fair, available=2, waiting=0)
	// After acquiring first permit: Semaphore(fair, available=1, waiting=0)
	// After acquiring second permit: Semaphore(fair, available=0, waiting=0)
}

func ExampleSemaphore_Acquire_timeout() {
	sem := semaphore.MustNew(0, false)

	// Timeouts are expressed through the context.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := sem.Acquire(ctx)
	fmt.Println(errors.Is(err, semaphore.ErrInterrupted))
	fmt.Println(errors.Is(err, context.DeadlineExceeded))
	fmt.Println(sem)

	// Output:
	// true
	// true
	// Semaphore(non-fair, available=0, waiting=0)
}
