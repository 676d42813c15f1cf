package transport

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/camrelay/internal/debug"
)

const (
	writeTimeout       = 2 * time.Second
	defaultRetryPeriod = 2 * time.Second
)

// Dialer is the connecting side of a WebSocket session. Once activated it
// keeps redialing until closed.
type Dialer struct {
	*link
	url    string
	dialer *websocket.Dialer
	retry  time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

// NewDialer creates an inactive dialer for url (ws:// or wss://).
func NewDialer(url string, maxPayload int) *Dialer {
	d := &Dialer{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
		retry:  defaultRetryPeriod,
	}
	d.link = newLink("ws-dial", maxPayload, d.write)
	return d
}

func (d *Dialer) Activate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrUnavailable
	}
	if d.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.wg.Add(1)
	go d.run(runCtx)
	return nil
}

func (d *Dialer) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		conn, _, err := d.dialer.DialContext(ctx, d.url, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			debug.Verbose("Transport ws-dial: %s unreachable: %v", d.url, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.retry):
				continue
			}
		}

		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			conn.Close()
			return
		}
		d.conn = conn
		d.mu.Unlock()
		debug.Info("Transport ws-dial: connected to %s", d.url)
		d.setReady(true)

		readLoop(conn, d.link)

		d.mu.Lock()
		d.conn = nil
		d.mu.Unlock()
		d.setReady(false)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
	}
}

func (d *Dialer) write(p []byte) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	return writeBinary(conn, p)
}

func (d *Dialer) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	if d.cancel != nil {
		d.cancel()
	}
	if d.conn != nil {
		d.conn.Close()
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.setReady(false)
	d.out.close()
	return nil
}

// Hub is the listening side of a WebSocket session. It serves one peer at a
// time; a new connection replaces the previous one.
type Hub struct {
	*link
	upgrader websocket.Upgrader
	maxRead  int64

	mu     sync.Mutex
	conn   *websocket.Conn
	active bool
	closed bool
	wg     sync.WaitGroup
}

// NewHub creates a hub. Mount it on an HTTP mux; peers are refused until
// Activate is called.
func NewHub(maxPayload int) *Hub {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		maxRead: int64(maxPayload),
	}
	h.link = newLink("ws-hub", maxPayload, h.write)
	return h
}

func (h *Hub) Activate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrUnavailable
	}
	h.active = true
	return nil
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	accepting := h.active && !h.closed
	h.mu.Unlock()
	if !accepting {
		http.Error(w, ErrUnavailable.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Warn("Transport ws-hub: upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(h.maxRead)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	if h.conn != nil {
		debug.Info("Transport ws-hub: replacing peer with %s", r.RemoteAddr)
		h.conn.Close()
	}
	h.conn = conn
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	debug.Info("Transport ws-hub: peer %s connected", r.RemoteAddr)
	h.setReady(true)

	readLoop(conn, h.link)

	h.mu.Lock()
	current := h.conn == conn
	if current {
		h.conn = nil
	}
	h.mu.Unlock()
	conn.Close()
	if current {
		h.setReady(false)
	}
	debug.Info("Transport ws-hub: peer %s gone", r.RemoteAddr)
}

func (h *Hub) write(p []byte) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	return writeBinary(conn, p)
}

func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.active = false
	if h.conn != nil {
		h.conn.Close()
	}
	h.mu.Unlock()

	h.wg.Wait()
	h.setReady(false)
	h.out.close()
	return nil
}

func readLoop(conn *websocket.Conn, l *link) {
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				debug.Verbose("Transport %s: read: %v", l.name, err)
			}
			return
		}
		if kind == websocket.BinaryMessage {
			l.deliver(data)
		}
	}
}

func writeBinary(conn *websocket.Conn, p []byte) error {
	if conn == nil {
		return ErrUnavailable
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.BinaryMessage, p)
}
