package backup

import (
	"sync"

	"github.com/simplyblock-io/vela-controlplane/internal/entityid"
)

// KeyedLock is a non-blocking per-key mutex map with lazy insertion and
// eviction when no other goroutine holds or waits on the key (§5
// "Coroutine control flow": "keyed mutexes (map of id -> lock) with
// lazy insertion and eviction when the branch disappears").
type KeyedLock struct {
	mu    sync.Mutex
	locks map[entityid.ID]*sync.Mutex
}

// NewKeyedLock builds an empty KeyedLock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: map[entityid.ID]*sync.Mutex{}}
}

// TryLock attempts to acquire branchID's lock without blocking. On
// success it returns an unlock function that releases the lock and
// evicts the entry once uncontended.
func (k *KeyedLock) TryLock(branchID entityid.ID) (unlock func(), ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, exists := k.locks[branchID]
	if !exists {
		l = &sync.Mutex{}
		k.locks[branchID] = l
	}

	if !l.TryLock() {
		return nil, false
	}

	return func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		l.Unlock()
		if k.locks[branchID] == l {
			delete(k.locks, branchID)
		}
	}, true
}
