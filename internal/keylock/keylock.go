// Package keylock serializes read-modify-write cycles on a per-key basis.
// The trade engine and engagement tracker hold the user's lock for the
// whole read-compute-write span so concurrent requests for the same user
// can't interleave and lose updates. Feed calls happen before the lock is
// taken; nothing slow runs while it is held.
package keylock

import "sync"

// Keyed hands out one mutex per key. Locks are retained for the life of
// the process; the population is bounded by the number of active users.
type Keyed struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an empty keyed lock set.
func New() *Keyed {
	return &Keyed{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *Keyed) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
