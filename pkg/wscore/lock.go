package wscore

import (
	"sync/atomic"
	"time"
)

// sideLock is a non-reentrant, semaphore-of-one lock used for the per-
// connection reader and writer sides (§4.D). It is deliberately not a
// sync.Mutex: the source's locking discipline needs a non-blocking
// try-acquire plus a bounded spin-with-backoff helper, and needs to observe
// an external "socket went nil" condition while waiting — neither of which
// sync.Mutex exposes.
type sideLock struct {
	held int32
}

// lock attempts to acquire the lock without blocking. It returns true iff
// the post-increment value is 1, mirroring the source's counting-lock
// semantics exactly (a second concurrent acquire decrements back to the
// prior value and reports failure rather than corrupting the counter).
func (l *sideLock) lock() bool {
	if atomic.AddInt32(&l.held, 1) == 1 {
		return true
	}
	atomic.AddInt32(&l.held, -1)
	return false
}

// unlock releases the lock. Calling unlock without a matching successful
// lock is a caller bug; it is not guarded against, matching the source's
// "not re-entrant" warning in §4.D.
func (l *sideLock) unlock() {
	atomic.AddInt32(&l.held, -1)
}

// tryLock spin-acquires with a 0ms/1ms alternating backoff (per §4.D) until
// acquired, the timeout elapses, or isNil reports the connection's socket
// has been cleared out from under the caller.
func (l *sideLock) tryLock(timeout time.Duration, isNil func() bool) bool {
	deadline := time.Now().Add(timeout)
	alternate := false
	for {
		if l.lock() {
			return true
		}
		if isNil != nil && isNil() {
			return false
		}
		if timeout >= 0 && time.Now().After(deadline) {
			return false
		}
		if alternate {
			time.Sleep(time.Millisecond)
		}
		alternate = !alternate
	}
}
