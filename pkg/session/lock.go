package session

import "sync"

// RepoLock serializes all backend calls against a single repository
// handle. The backend is not safe for concurrent access, so every code
// path that touches it acquires this lock first, whether it runs on the
// frontend goroutine or on a dispatcher worker.
//
// The lock is not reentrant: a second Acquire on the same goroutine
// deadlocks. Callers acquire once per backend interaction and copy data
// out before releasing.
type RepoLock struct {
	mu sync.Mutex
}

// Acquire blocks until exclusive access to the backend is granted.
func (l *RepoLock) Acquire() { l.mu.Lock() }

// Release returns exclusive access.
func (l *RepoLock) Release() { l.mu.Unlock() }
