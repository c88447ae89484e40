// Package broadcast is an in-process publish/subscribe channel used to tell
// independently created components that shared state changed.
package broadcast

import "sync"

// Bus delivers published values to every current subscriber.
type Bus[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]func(T)
	order  []uint64
}

// New returns an empty bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[uint64]func(T))}
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is safe to call more than once.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, o := range b.order {
				if o == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish calls every subscriber synchronously, in subscription order, on
// the caller's goroutine. Handlers run outside the bus lock, so a handler may
// subscribe or unsubscribe; such changes take effect from the next Publish.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	handlers := make([]func(T), 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(v)
	}
}

// Len reports the number of active subscribers.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
