// Package transport carries frame payloads to the companion device on a
// best-effort basis.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/camrelay/internal/debug"
	"github.com/cjeanneret/camrelay/internal/observe"
)

var (
	ErrUnavailable     = errors.New("transport unavailable")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// DefaultMaxPayload bounds a single message.
const DefaultMaxPayload = 64 << 10

// Endpoint is a session-oriented channel to exactly one peer.
type Endpoint interface {
	// Activate establishes or re-establishes the session. It is idempotent
	// and does not wait for the peer.
	Activate(ctx context.Context) error
	// IsReady is true only while the session is active.
	IsReady() bool
	// Send hands a payload over without blocking. Payloads are dropped when
	// the session is not ready, when they exceed the size limit, or when a
	// newer payload arrives before the previous one went out.
	Send(payload []byte)
	// Liveness publishes readiness changes.
	Liveness() *observe.Value[bool]
	// OnReceive installs the handler for inbound payloads.
	OnReceive(fn func([]byte))
	Close() error
}

// Stats are running counters of an endpoint.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// link is the state every endpoint shares: readiness, the receive handler
// and an outbox.
type link struct {
	name     string
	live     *observe.Value[bool]
	received atomic.Pointer[func([]byte)]
	out      *outbox
}

func newLink(name string, maxPayload int, write func([]byte) error) *link {
	l := &link{name: name, live: observe.NewValue(false)}
	l.out = newOutbox(name, maxPayload, l.IsReady, write)
	return l
}

func (l *link) IsReady() bool                  { return l.live.Get() }
func (l *link) Liveness() *observe.Value[bool] { return l.live }
func (l *link) Send(payload []byte)            { l.out.send(payload) }
func (l *link) Stats() Stats                   { return l.out.stats() }

func (l *link) OnReceive(fn func([]byte)) {
	if fn == nil {
		l.received.Store(nil)
		return
	}
	l.received.Store(&fn)
}

func (l *link) setReady(ready bool) {
	if l.live.Get() == ready {
		return
	}
	debug.Status("Transport "+l.name, l.live.Get(), ready)
	l.live.Set(ready)
}

func (l *link) deliver(p []byte) {
	if h := l.received.Load(); h != nil {
		(*h)(p)
	}
}

// outbox holds at most one pending payload and writes it from its own
// goroutine. A newer payload replaces an unsent one.
type outbox struct {
	name  string
	max   int
	ready func() bool
	write func([]byte) error

	queue chan []byte
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup

	lastFailLog atomic.Int64
	sent        atomic.Uint64
	dropped     atomic.Uint64
	failed      atomic.Uint64
}

func newOutbox(name string, max int, ready func() bool, write func([]byte) error) *outbox {
	if max <= 0 {
		max = DefaultMaxPayload
	}
	o := &outbox{
		name:  name,
		max:   max,
		ready: ready,
		write: write,
		queue: make(chan []byte, 1),
		done:  make(chan struct{}),
	}
	o.wg.Add(1)
	go o.loop()
	return o
}

func (o *outbox) send(p []byte) {
	select {
	case <-o.done:
		return
	default:
	}
	if len(p) == 0 {
		return
	}
	if !o.ready() {
		o.dropped.Add(1)
		debug.Drop(o.name, ErrUnavailable.Error())
		return
	}
	if len(p) > o.max {
		o.dropped.Add(1)
		debug.Drop(o.name, ErrPayloadTooLarge.Error())
		return
	}

	select {
	case o.queue <- p:
		return
	default:
	}
	select {
	case <-o.queue:
		o.dropped.Add(1)
		debug.Drop(o.name, "superseded by newer payload")
	default:
	}
	select {
	case o.queue <- p:
	default:
		o.dropped.Add(1)
		debug.Drop(o.name, "outbox full")
	}
}

func (o *outbox) loop() {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case p := <-o.queue:
			if err := o.write(p); err != nil {
				o.failed.Add(1)
				if shouldLog(&o.lastFailLog, time.Second) {
					debug.Warn("Transport %s: send failed: %v (total %d)", o.name, err, o.failed.Load())
				}
				continue
			}
			o.sent.Add(1)
		}
	}
}

func (o *outbox) close() {
	o.once.Do(func() {
		close(o.done)
		o.wg.Wait()
		select {
		case <-o.queue:
		default:
		}
	})
}

// pending reports how many payloads are queued.
func (o *outbox) pending() int { return len(o.queue) }

func (o *outbox) stats() Stats {
	return Stats{Sent: o.sent.Load(), Dropped: o.dropped.Load(), Failed: o.failed.Load()}
}

func shouldLog(last *atomic.Int64, period time.Duration) bool {
	now := time.Now().UnixNano()
	prev := last.Load()
	if prev != 0 && time.Duration(now-prev) < period {
		return false
	}
	return last.CompareAndSwap(prev, now)
}
