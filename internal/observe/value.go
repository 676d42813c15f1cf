// Package observe provides a latest-value observable used to publish
// status, capability and activity changes to any number of subscribers.
package observe

import "sync"

// DefaultBuffer is the per-subscriber buffer used by NewValue.
const DefaultBuffer = 16

// Value holds the current value of some state and distributes every change
// to its subscribers.
//
// Delivery is ordered and never blocks the publisher. When a subscriber falls
// behind, the oldest undelivered values are discarded first, so the most
// recent value is always eventually observed.
type Value[T any] struct {
	mu      sync.RWMutex
	cur     T
	version uint64
	buffer  int
	subs    map[chan T]struct{}
	closed  bool
}

// NewValue creates a Value holding initial.
func NewValue[T any](initial T) *Value[T] {
	return NewValueBuffered(initial, DefaultBuffer)
}

// NewValueBuffered creates a Value whose subscribers buffer up to n pending
// values before coalescing.
func NewValueBuffered[T any](initial T, n int) *Value[T] {
	if n < 1 {
		n = 1
	}
	return &Value[T]{
		cur:    initial,
		buffer: n,
		subs:   make(map[chan T]struct{}),
	}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cur
}

// Version returns a counter incremented on every Set.
func (v *Value[T]) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// Set replaces the current value and notifies subscribers.
func (v *Value[T]) Set(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.cur = x
	v.version++
	for ch := range v.subs {
		push(ch, x)
	}
}

// Update applies fn to the current value under the lock and publishes the
// result. It returns the new value.
func (v *Value[T]) Update(fn func(T) T) T {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return v.cur
	}
	v.cur = fn(v.cur)
	v.version++
	for ch := range v.subs {
		push(ch, v.cur)
	}
	return v.cur
}

// Subscribe returns a channel that first receives the current value and then
// every subsequent change, plus a function that cancels the subscription and
// closes the channel.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, v.buffer)

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	ch <- v.cur
	v.subs[ch] = struct{}{}
	v.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			v.mu.Lock()
			if _, ok := v.subs[ch]; ok {
				delete(v.subs, ch)
				close(ch)
			}
			v.mu.Unlock()
		})
	}
	return ch, unsub
}

// Close closes every subscriber channel. Later Set calls are ignored.
func (v *Value[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	for ch := range v.subs {
		delete(v.subs, ch)
		close(ch)
	}
}

// push delivers x without blocking. The caller holds the write lock, so it is
// the only sender on ch and a slot freed by the drain stays free.
func push[T any](ch chan T, x T) {
	for {
		select {
		case ch <- x:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
