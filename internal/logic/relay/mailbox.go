package relay

import "sync"

// mailbox is a single-slot buffer with overwrite-on-put. One consumer
// blocks in take until an item arrives or the mailbox is closed.
type mailbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	item   T
	full   bool
	closed bool
}

func newMailbox[T any]() *mailbox[T] {
	m := &mailbox[T]{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// put stores v, replacing any unconsumed item. It reports whether an
// unconsumed item was superseded. Puts after close are ignored.
func (m *mailbox[T]) put(v T) (superseded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	superseded = m.full
	m.item = v
	m.full = true
	m.cond.Signal()
	return superseded
}

// take blocks until an item is available. ok is false once closed.
func (m *mailbox[T]) take() (v T, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for !m.full && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return v, false
	}
	v = m.item
	var zero T
	m.item = zero
	m.full = false
	return v, true
}

func (m *mailbox[T]) close() {
	m.mu.Lock()
	m.closed = true
	var zero T
	m.item = zero
	m.full = false
	m.cond.Broadcast()
	m.mu.Unlock()
}
