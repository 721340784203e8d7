package core

import "sync"

// keyedMutex hands out one mutex per key. Entries are dropped once no
// goroutine holds or waits on them.
type keyedMutex struct {
	mtx   sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until the lock for key is held and returns the function
// releasing it.
func (k *keyedMutex) Lock(key string) func() {
	k.mtx.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mtx.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mtx.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mtx.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mtx.Lock()
	defer k.mtx.Unlock()
	return len(k.locks)
}
