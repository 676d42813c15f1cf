// Package relay turns the live frame stream into a throttled, downscaled
// JPEG stream for the companion device.
package relay

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the minimum spacing between two relayed frames.
const DefaultInterval = time.Second

// Sampler is a rate gate over frame-available events. It forwards a frame
// only when at least the interval has elapsed since the last forwarded one;
// everything else is dropped without buffering.
type Sampler struct {
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	last   time.Time
	primed bool

	accepted atomic.Uint64
	dropped  atomic.Uint64
}

// NewSampler creates a gate with the given interval. now may be nil to use
// the wall clock.
func NewSampler(interval time.Duration, now func() time.Time) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if now == nil {
		now = time.Now
	}
	return &Sampler{interval: interval, now: now}
}

// Interval returns the configured minimum interval.
func (s *Sampler) Interval() time.Duration { return s.interval }

// Accept reports whether a frame arriving now should be forwarded.
func (s *Sampler) Accept() bool {
	t := s.now()

	s.mu.Lock()
	ok := !s.primed || t.Sub(s.last) >= s.interval
	if ok {
		s.last = t
		s.primed = true
	}
	s.mu.Unlock()

	if ok {
		s.accepted.Add(1)
	} else {
		s.dropped.Add(1)
	}
	return ok
}

// Reset forgets the last forwarded time so the next frame passes.
func (s *Sampler) Reset() {
	s.mu.Lock()
	s.primed = false
	s.mu.Unlock()
}

// Accepted is the number of frames forwarded so far.
func (s *Sampler) Accepted() uint64 { return s.accepted.Load() }

// Dropped is the number of frames gated out so far.
func (s *Sampler) Dropped() uint64 { return s.dropped.Load() }
