package concurrency

import "sync"

type refMutex struct {
	sync.Mutex
	refs int
}

// KeyedMutex serializes work per key (session id, employee id) while letting
// different keys proceed in parallel. Idle keys are released automatically.
type KeyedMutex struct {
	locks map[string]*refMutex
	mu    sync.Mutex
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		locks: make(map[string]*refMutex),
	}
}

func (m *KeyedMutex) Lock(key string) {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &refMutex{}
		m.locks[key] = lock
	}
	lock.refs++
	m.mu.Unlock()
	lock.Lock()
}

func (m *KeyedMutex) Unlock(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		return
	}
	lock.refs--
	if lock.refs == 0 {
		delete(m.locks, key)
	}
	lock.Unlock()
}

// With runs fn while holding the lock for key.
func (m *KeyedMutex) With(key string, fn func() error) error {
	m.Lock(key)
	defer m.Unlock(key)
	return fn()
}

// Len reports how many keys are held or waited on.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
