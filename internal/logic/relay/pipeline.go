package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/camrelay/internal/debug"
	"github.com/cjeanneret/camrelay/internal/hw/camera"
)

// Sender takes an encoded frame. Send must not block; dropping is allowed.
type Sender interface {
	Send(payload []byte)
}

// Config tunes the relay.
type Config struct {
	Interval time.Duration
	Target   Size
	Quality  float64
	// Now overrides the sampler clock in tests.
	Now func() time.Time
}

// DefaultConfig relays one 160x90 frame per second at quality 0.5.
func DefaultConfig() Config {
	return Config{Interval: DefaultInterval, Target: DefaultTarget, Quality: DefaultQuality}
}

// Stats are running counters of the relay.
type Stats struct {
	Sampled      uint64 `json:"sampled"`
	Gated        uint64 `json:"gated"`
	Superseded   uint64 `json:"superseded"`
	Encoded      uint64 `json:"encoded"`
	EncodeFailed uint64 `json:"encode_failed"`
}

// Pipeline connects raw frame delivery to a Sender. HandleFrame runs on the
// hardware's delivery goroutine and only gates and parks the frame; a single
// worker goroutine encodes and sends, so encodes never overlap. A frame
// arriving while the worker is busy replaces the parked one.
type Pipeline struct {
	sampler *Sampler
	encoder *Encoder
	out     Sender
	slot    *mailbox[camera.Frame]

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	superseded   atomic.Uint64
	encoded      atomic.Uint64
	encodeFailed atomic.Uint64
}

// NewPipeline creates a stopped pipeline feeding out.
func NewPipeline(cfg Config, out Sender) *Pipeline {
	if cfg.Quality <= 0 {
		cfg.Quality = DefaultQuality
	}
	return &Pipeline{
		sampler: NewSampler(cfg.Interval, cfg.Now),
		encoder: NewEncoder(cfg.Target, cfg.Quality),
		out:     out,
		slot:    newMailbox[camera.Frame](),
	}
}

// Start launches the worker. Cancelling ctx stops the pipeline.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run()
		context.AfterFunc(ctx, p.Stop)
		debug.Verbose("Relay: started (interval=%s, target=%s, quality=%d)",
			p.sampler.Interval(), p.encoder.Target(), p.encoder.quality)
	})
}

// HandleFrame offers a raw frame to the relay. It never blocks on encoding
// or transport.
func (p *Pipeline) HandleFrame(f camera.Frame) {
	if !p.sampler.Accept() {
		return
	}
	if p.slot.put(f) {
		p.superseded.Add(1)
		debug.Drop("relay", "encoder busy, superseded parked frame")
	}
}

// Stop ends the worker and discards any parked frame. Safe to call more
// than once and before Start.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.slot.close()
	})
	p.wg.Wait()
}

// Stats returns the current counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Sampled:      p.sampler.Accepted(),
		Gated:        p.sampler.Dropped(),
		Superseded:   p.superseded.Load(),
		Encoded:      p.encoded.Load(),
		EncodeFailed: p.encodeFailed.Load(),
	}
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	for {
		f, ok := p.slot.take()
		if !ok {
			return
		}
		payload, err := p.encoder.Encode(f.Image)
		if err != nil {
			p.encodeFailed.Add(1)
			debug.Drop("relay", err.Error())
			continue
		}
		p.encoded.Add(1)
		debug.Trace("Relay: %dx%d frame, %d bytes", payload.Width, payload.Height, len(payload.Data))
		p.out.Send(payload.Data)
	}
}
