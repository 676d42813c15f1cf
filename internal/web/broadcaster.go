package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Event kinds carried on the status stream.
const (
	KindLog   = "log"
	KindState = "state"
)

// StatusEvent is one message on the SSE stream: either a log line or a full
// camera snapshot.
type StatusEvent struct {
	Time  string          `json:"t"`
	Kind  string          `json:"kind"`
	Level string          `json:"l,omitempty"`
	Msg   string          `json:"msg,omitempty"`
	State json.RawMessage `json:"state,omitempty"`
}

// StatusBroadcaster distributes events to every connected SSE client. The
// last snapshot is kept so late subscribers start from the current state.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	last    string
}

func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel of encoded events and a cleanup function the
// caller must run when the client goes away.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	if b.last != "" {
		ch <- b.last
	}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}
	return ch, unsub
}

// Clients returns the number of connected subscribers.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends a log line. Slow clients miss messages rather than block
// the sender.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.publish(StatusEvent{Kind: KindLog, Level: level, Msg: msg}, false)
}

// BroadcastMsg is Broadcast at level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastState publishes v, JSON-encoded, as the current snapshot.
func (b *StatusBroadcaster) BroadcastState(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.publish(StatusEvent{Kind: KindState, State: data}, true)
	return nil
}

func (b *StatusBroadcaster) publish(evt StatusEvent, keep bool) {
	evt.Time = time.Now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	if keep {
		b.mu.Lock()
		b.last = payload
		b.mu.Unlock()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// BroadcastWriter adapts b to io.Writer so debug output reaches SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if msg := strings.TrimSpace(line); msg != "" {
			w.b.Broadcast(levelOf(msg), msg)
		}
	}
	return len(p), nil
}

// levelOf picks the SSE level from the debug logger's prefixes.
func levelOf(msg string) string {
	switch {
	case strings.Contains(msg, "[ERROR]"):
		return "error"
	case strings.Contains(msg, "[WARN]"):
		return "warn"
	default:
		return "info"
	}
}
