// Package event provides typed in-process event emitters and disposables.
//
// An Emitter owns the listener list and fires values; consumers only see the
// Event function returned by Emitter.Event, which subscribes a listener and
// returns a Disposable that unsubscribes it.
package event

import (
	"sync"
)

// Disposable releases a resource or subscription. Dispose must be idempotent.
type Disposable interface {
	Dispose()
}

// DisposableFunc adapts a function to Disposable. The function runs at most once.
func DisposableFunc(fn func()) Disposable {
	return &funcDisposable{fn: fn}
}

type funcDisposable struct {
	once sync.Once
	fn   func()
}

func (d *funcDisposable) Dispose() {
	d.once.Do(func() {
		if d.fn != nil {
			d.fn()
		}
	})
}

// Nop is a Disposable that does nothing.
var Nop Disposable = DisposableFunc(nil)

// Collection disposes a group of disposables together. Disposables pushed after
// the collection was disposed are disposed immediately.
type Collection struct {
	mu       sync.Mutex
	items    []Disposable
	disposed bool
}

// NewCollection creates a collection holding the given disposables.
func NewCollection(items ...Disposable) *Collection {
	return &Collection{items: items}
}

// Push adds disposables to the collection.
func (c *Collection) Push(items ...Disposable) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		for _, item := range items {
			item.Dispose()
		}
		return
	}
	c.items = append(c.items, items...)
	c.mu.Unlock()
}

// Dispose disposes every item in reverse push order.
func (c *Collection) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	items := c.items
	c.items = nil
	c.mu.Unlock()

	for i := len(items) - 1; i >= 0; i-- {
		items[i].Dispose()
	}
}

// Disposed reports whether Dispose has been called.
func (c *Collection) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// Event subscribes a listener and returns its subscription.
type Event[T any] func(listener func(T)) Disposable

// None is an event that never fires.
func None[T any]() Event[T] {
	return func(func(T)) Disposable { return Nop }
}

type listenerEntry[T any] struct {
	fn func(T)
}

// Emitter fires values of type T to its listeners in subscription order.
type Emitter[T any] struct {
	mu        sync.Mutex
	listeners []*listenerEntry[T]
	disposed  bool
}

// NewEmitter creates an empty emitter.
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{}
}

// Event returns the subscription function for this emitter.
func (e *Emitter[T]) Event() Event[T] {
	return e.Subscribe
}

// Subscribe adds a listener. Subscribing to a disposed emitter is a no-op.
func (e *Emitter[T]) Subscribe(listener func(T)) Disposable {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return Nop
	}
	entry := &listenerEntry[T]{fn: listener}
	e.listeners = append(e.listeners, entry)
	return DisposableFunc(func() { e.remove(entry) })
}

func (e *Emitter[T]) remove(entry *listenerEntry[T]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if l == entry {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

// Fire delivers value to a snapshot of the current listeners. Listeners are
// called outside the emitter lock and may subscribe or unsubscribe freely.
func (e *Emitter[T]) Fire(value T) {
	e.mu.Lock()
	if e.disposed || len(e.listeners) == 0 {
		e.mu.Unlock()
		return
	}
	snapshot := make([]*listenerEntry[T], len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.Unlock()

	for _, l := range snapshot {
		l.fn(value)
	}
}

// Len returns the number of subscribed listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Dispose removes all listeners; later Fire and Subscribe calls do nothing.
func (e *Emitter[T]) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposed = true
	e.listeners = nil
}

// Once subscribes listener for a single delivery.
func Once[T any](ev Event[T], listener func(T)) Disposable {
	var (
		mu    sync.Mutex
		fired bool
		sub   Disposable
	)
	d := ev(func(value T) {
		mu.Lock()
		if fired {
			mu.Unlock()
			return
		}
		fired = true
		s := sub
		mu.Unlock()
		if s != nil {
			s.Dispose()
		}
		listener(value)
	})

	mu.Lock()
	sub = d
	alreadyFired := fired
	mu.Unlock()
	if alreadyFired {
		d.Dispose()
	}
	return d
}
