// ABOUTME: Per-key exclusive execution regions for conversation serialization
// ABOUTME: Independent keys proceed in parallel; entries are reclaimed when uncontended

package conversation

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedLock serializes work per key without a global lock. Two goroutines
// acquiring the same key run one after the other; different keys never
// block each other. Entries are removed once no goroutine holds or waits
// on them, so the map stays bounded by current contention.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

// NewKeyedLock creates an empty keyed lock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*lockEntry)}
}

// Acquire blocks until the key's exclusive region is available and returns
// a release function. The release function must be called exactly once.
func (k *KeyedLock) Acquire(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()
			k.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}

// Len returns the number of keys currently held or contended. For tests.
func (k *KeyedLock) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
