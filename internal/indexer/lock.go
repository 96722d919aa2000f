package indexer

import "sync/atomic"

// IndexLock is a non-blocking single-flight guard: at most one indexing or
// removal operation runs at a time, and contenders fail fast instead of
// queueing.
type IndexLock struct {
	held atomic.Bool
}

// TryAcquire attempts to take the lock without blocking and reports whether
// it succeeded
func (l *IndexLock) TryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// Release frees the lock. Only the caller that acquired it may release it.
func (l *IndexLock) Release() {
	l.held.Store(false)
}
