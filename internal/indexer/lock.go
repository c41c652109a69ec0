package indexer

import (
	"sync"
	"sync/atomic"
)

// indexLock provides non-blocking lock semantics using atomic operations.
type indexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *indexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *indexLock) Release() {
	l.state.Store(0)
}

// lockRegistry hands out one lock per project so at most one bulk index
// runs against a project at a time.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*indexLock
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*indexLock)}
}

func (r *lockRegistry) get(projectID string) *indexLock {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[projectID]
	if !ok {
		l = &indexLock{}
		r.locks[projectID] = l
	}
	return l
}
