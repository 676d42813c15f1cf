package transport

import (
	"context"
	"sync"
)

// Loopback is an in-process endpoint pair. A side is ready once both sides
// are activated and neither is closed.
type Loopback struct {
	*link
	peer *Loopback
	mu   *sync.Mutex // shared by both sides

	active bool
	closed bool
}

// NewLoopbackPair returns two connected endpoints.
func NewLoopbackPair(maxPayload int) (*Loopback, *Loopback) {
	mu := &sync.Mutex{}
	a := &Loopback{mu: mu}
	b := &Loopback{mu: mu}
	a.link = newLink("loopback-a", maxPayload, a.write)
	b.link = newLink("loopback-b", maxPayload, b.write)
	a.peer, b.peer = b, a
	return a, b
}

func (l *Loopback) Activate(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrUnavailable
	}
	l.active = true
	l.refresh()
	return nil
}

// refresh must be called with mu held.
func (l *Loopback) refresh() {
	up := l.active && l.peer.active && !l.closed && !l.peer.closed
	l.setReady(up)
	l.peer.setReady(up)
}

func (l *Loopback) write(p []byte) error {
	l.mu.Lock()
	up := l.active && l.peer.active && !l.peer.closed
	l.mu.Unlock()
	if !up {
		return ErrUnavailable
	}
	l.peer.deliver(p)
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.active = false
	l.refresh()
	l.mu.Unlock()
	l.out.close()
	return nil
}
