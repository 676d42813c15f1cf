// Package companion is the receiving side of the relay: it keeps the most
// recently received frame and serves it.
package companion

import (
	"bytes"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/camrelay/internal/debug"
)

// Frame is the latest decoded-and-accepted payload.
type Frame struct {
	Data       []byte
	Width      int
	Height     int
	ReceivedAt time.Time
	Seq        uint64
}

// Store holds exactly one frame. Every payload that decodes overwrites it;
// anything else is dropped silently.
type Store struct {
	mu     sync.RWMutex
	latest Frame
	seq    uint64

	rejected atomic.Uint64
	now      func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Receive is the transport receive handler.
func (s *Store) Receive(payload []byte) {
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		s.rejected.Add(1)
		debug.Drop("companion", "undecodable payload")
		return
	}
	f := Frame{
		Data:       bytes.Clone(payload),
		Width:      img.Bounds().Dx(),
		Height:     img.Bounds().Dy(),
		ReceivedAt: s.now(),
	}

	s.mu.Lock()
	s.seq++
	f.Seq = s.seq
	s.latest = f
	s.mu.Unlock()
	debug.Trace("Companion: frame %d (%dx%d, %d bytes)", f.Seq, f.Width, f.Height, len(f.Data))
}

// Latest returns the current frame; ok is false until one arrives.
func (s *Store) Latest() (Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.latest.Seq != 0
}

// Rejected counts payloads that did not decode.
func (s *Store) Rejected() uint64 { return s.rejected.Load() }
