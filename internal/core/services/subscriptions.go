package services

import "sync"

// Disposer removes a subscription. Calling it more than once is harmless.
type Disposer func()

type listener[T any] struct {
	id uint64
	fn func(T)
}

// listeners is an ordered, concurrency-safe set of callbacks. emit calls a
// snapshot, so callbacks may subscribe or dispose while being notified.
type listeners[T any] struct {
	mu     sync.Mutex
	nextID uint64
	items  []listener[T]
}

func (l *listeners[T]) add(fn func(T)) Disposer {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.items = append(l.items, listener[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *listeners[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, item := range l.items {
		if item.id == id {
			l.items = append(l.items[:i:i], l.items[i+1:]...)
			return
		}
	}
}

func (l *listeners[T]) emit(v T) {
	l.mu.Lock()
	snapshot := make([]listener[T], len(l.items))
	copy(snapshot, l.items)
	l.mu.Unlock()

	for _, item := range snapshot {
		item.fn(v)
	}
}

func (l *listeners[T]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
