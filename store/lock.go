// ABOUTME: Keyed mutex for serializing read-modify-write cycles on per-run metadata files.
// ABOUTME: Locks are created on first use and held for the duration of one mutation.

package store

import "sync"

// keyedMutex provides one mutex per string key. Naive concurrent
// read-modify-write on a flat metadata file is a correctness hazard, so every
// mutation of a run's manifest goes through its key's lock.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for key, creating it if needed, and returns the
// unlock function.
func (k *keyedMutex) Lock(key string) func() {
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
