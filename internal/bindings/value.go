package bindings

import "sync"

// Value is a reactive container: the view layer reads it with Get and
// re-renders from Subscribe callbacks fired on every Set.
type Value[T any] struct {
	mu     sync.Mutex
	v      T
	nextID int
	subs   map[int]func(T)
}

// NewValue creates a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{v: initial, subs: make(map[int]func(T))}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.v
}

// Set stores val and notifies all subscribers.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	v.v = val
	subs := make([]func(T), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	// callbacks run outside the lock so they may call Get
	for _, fn := range subs {
		fn(val)
	}
}

// Subscribe registers fn for future changes and returns its cancel func.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
	}
}
