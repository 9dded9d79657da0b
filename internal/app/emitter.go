package app

import (
	"sort"
	"sync"
)

// Emitter fans a value out to the handlers registered on it. It belongs to the component that
// owns it; there is no process-wide listener list. The zero value is ready to use.
type Emitter[T any] struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]func(T)
}

// On registers fn and returns the function that unregisters it.
func (e *Emitter[T]) On(fn func(T)) (off func()) {
	e.mu.Lock()
	if e.handlers == nil {
		e.handlers = make(map[int]func(T))
	}
	id := e.next
	e.next++
	e.handlers[id] = fn
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.handlers, id)
			e.mu.Unlock()
		})
	}
}

// Emit calls every registered handler in registration order outside the lock.
func (e *Emitter[T]) Emit(v T) {
	e.mu.RLock()
	ids := make([]int, 0, len(e.handlers))
	for id := range e.handlers {
		ids = append(ids, id)
	}
	fns := make([]func(T), 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		fns = append(fns, e.handlers[id])
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len reports the number of registered handlers.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}
