// Package keylock сериализует операции по ключу, например по идентификатору пользователя.
package keylock

import "sync"

type entry struct {
	mu   sync.Mutex
	refs int
}

// Locker выдаёт мьютекс на каждый ключ и освобождает его, когда ключ больше никем не удерживается.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New создаёт пустой Locker.
func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock блокирует ключ и возвращает функцию разблокировки.
func (l *Locker) Lock(key string) func() {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
