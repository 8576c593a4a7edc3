package worker

import "sync"

// keyLocks hands out a mutex per conversation key so at most one worker
// processes a given conversation at a time. Entries are reference counted
// and removed once the last holder releases, keeping the map bounded by
// the number of in-flight jobs.
type keyLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{entries: make(map[string]*lockEntry)}
}

// Lock blocks until the key is free and returns the release function.
func (kl *keyLocks) Lock(key string) func() {
	kl.mu.Lock()
	e, ok := kl.entries[key]
	if !ok {
		e = &lockEntry{}
		kl.entries[key] = e
	}
	e.refs++
	kl.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()
		kl.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(kl.entries, key)
		}
		kl.mu.Unlock()
	}
}
