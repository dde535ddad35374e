// Package session provides the per-session serialization primitive the
// ingestion pipeline depends on: turns within one session are ingested
// strictly in order, while different sessions may ingest concurrently
// (spec §5, Concurrency & Resource Model).
package session

import (
	"sync"
	"time"
)

// Locker hands out one mutual-exclusion lock per session id, kept in a
// map of per-key state guarded by its own mutex: Acquire blocks until
// no other caller holds sessionID's lock, so a session's turns can never
// be processed out of order or concurrently with themselves, while two
// different session ids never contend.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu       sync.Mutex
	refCount int
	lastUsed time.Time
}

// NewLocker builds an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sessionLock)}
}

// Acquire blocks until sessionID's lock is free, then holds it. The
// returned release func must be called exactly once to let the next
// waiter (if any) proceed; entries with no waiters and no holder are
// dropped from the map so Locker's memory tracks only sessions currently
// in flight, not every session ever ingested.
func (l *Locker) Acquire(sessionID string) (release func()) {
	l.mu.Lock()
	lock, ok := l.locks[sessionID]
	if !ok {
		lock = &sessionLock{}
		l.locks[sessionID] = lock
	}
	lock.refCount++
	l.mu.Unlock()

	lock.mu.Lock()
	lock.lastUsed = time.Now()

	var once sync.Once
	return func() {
		once.Do(func() {
			lock.mu.Unlock()
			l.mu.Lock()
			lock.refCount--
			if lock.refCount == 0 {
				delete(l.locks, sessionID)
			}
			l.mu.Unlock()
		})
	}
}

// InFlight returns the number of session ids currently locked or waited
// on, for stats reporting.
func (l *Locker) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
