// Package exchange runs producers and consumers against each other through a
// semaphore-guarded bounded queue, and reports whether every item made it
// across exactly once.
//
// It exists to exercise the semaphores under a realistic load: the queue uses
// two of them to block producers on a full queue and consumers on an empty one,
// and a third one bounds how many consumers verify items at the same time.
package exchange
