package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/cjeanneret/camrelay/internal/debug"
	"github.com/cjeanneret/camrelay/internal/hw/device"
	"github.com/cjeanneret/camrelay/internal/state"
)

// ErrNotOpen is returned by Simulator operations before Open.
var ErrNotOpen = errors.New("camera not open")

// SimulatorConfig configures the synthetic backend.
type SimulatorConfig struct {
	Width        int
	Height       int
	FrameRate    int
	HDRSupported bool
}

// Simulator is a Hardware backend that renders a moving test pattern. It is
// used for development without a camera and by the daemon's mock mode.
type Simulator struct {
	cfg SimulatorConfig

	mu        sync.Mutex
	open      bool
	dev       device.Device
	mode      state.Mode
	hdr       bool
	focus     Point
	cb        Callbacks
	seq       uint64
	latest    *image.RGBA
	recording bool
	recStart  time.Time
	recFrames [][]byte

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSimulator creates a simulator. Zero fields get 640x360 at 30 fps.
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 360
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 30
	}
	return &Simulator{cfg: cfg}
}

func (s *Simulator) caps() Capabilities {
	return Capabilities{
		HDRVideoSupported:  s.cfg.HDRSupported && s.mode == state.ModeVideo,
		LivePhotoSupported: s.mode == state.ModePhoto,
	}
}

func (s *Simulator) Open(ctx context.Context, dev device.Device, st state.CameraState, cb Callbacks) (Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return Capabilities{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return s.caps(), nil
	}
	s.open = true
	s.dev = dev
	s.mode = st.CaptureMode
	s.hdr = st.IsVideoHDREnabled && s.cfg.HDRSupported && st.CaptureMode == state.ModeVideo
	s.cb = cb
	s.latest = image.NewRGBA(image.Rect(0, 0, s.cfg.Width, s.cfg.Height))

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(runCtx)

	debug.Live("Simulator: opened %s (%dx%d @ %d fps, mode=%s)", dev, s.cfg.Width, s.cfg.Height, s.cfg.FrameRate, s.mode)
	return s.caps(), nil
}

func (s *Simulator) SwitchDevice(ctx context.Context, dev device.Device) (Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return Capabilities{}, ErrNotOpen
	}
	s.dev = dev
	debug.Live("Simulator: switched to %s", dev)
	return s.caps(), nil
}

func (s *Simulator) SetMode(ctx context.Context, mode state.Mode) (Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return Capabilities{}, ErrNotOpen
	}
	s.mode = mode
	if mode != state.ModeVideo {
		s.hdr = false
	}
	return s.caps(), nil
}

func (s *Simulator) SetHDRVideo(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	s.hdr = enabled && s.cfg.HDRSupported
	return nil
}

func (s *Simulator) FocusAndExpose(ctx context.Context, p Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	s.focus = p
	return nil
}

func (s *Simulator) CapturePhoto(ctx context.Context, f PhotoFeatures) (Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return Photo{}, ErrNotOpen
	}
	quality := 85
	if f.QualityPrioritization == state.QualityQuality {
		quality = 95
	} else if f.QualityPrioritization == state.QualitySpeed {
		quality = 70
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, s.latest, &jpeg.Options{Quality: quality}); err != nil {
		return Photo{}, fmt.Errorf("encode photo: %w", err)
	}
	return Photo{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		CapturedAt:  time.Now(),
		LivePhoto:   f.LivePhotoEnabled && s.mode == state.ModePhoto,
	}, nil
}

func (s *Simulator) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}
	s.recording = true
	s.recStart = time.Now()
	s.recFrames = nil
	return nil
}

// StopRecording returns the recorded frames as a motion-JPEG stream.
func (s *Simulator) StopRecording(ctx context.Context) (Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.recording {
		return Movie{}, errors.New("not recording")
	}
	s.recording = false
	var buf bytes.Buffer
	for _, f := range s.recFrames {
		buf.Write(f)
	}
	m := Movie{
		Data:        buf.Bytes(),
		ContentType: "video/x-motion-jpeg",
		Duration:    time.Since(s.recStart),
		Frames:      len(s.recFrames),
	}
	s.recFrames = nil
	return m, nil
}

// Interrupt simulates an external interruption (InterruptionNone resumes).
func (s *Simulator) Interrupt(kind Interruption) {
	s.mu.Lock()
	cb := s.cb.OnInterruption
	s.mu.Unlock()
	if cb != nil {
		cb(kind)
	}
}

func (s *Simulator) Close() error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return nil
	}
	s.open = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	debug.Live("Simulator: closed")
	return nil
}

func (s *Simulator) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Second / time.Duration(s.cfg.FrameRate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			frame, onFrame := s.render(now)
			if onFrame != nil {
				onFrame(frame)
			}
		}
	}
}

// render draws the next pattern into the shared latest buffer and hands a
// private copy to the frame callback.
func (s *Simulator) render(now time.Time) (Frame, func(Frame)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	img := s.latest
	b := img.Bounds()
	bar := int(s.seq*4) % b.Dx()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBA{
				R: uint8(x * 255 / b.Dx()),
				G: uint8(y * 255 / b.Dy()),
				B: uint8(s.seq),
				A: 255,
			}
			if x >= bar && x < bar+8 {
				c = color.RGBA{255, 255, 255, 255}
			}
			if s.hdr {
				c.B = 255 - c.B
			}
			img.SetRGBA(x, y, c)
		}
	}

	if s.recording {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err == nil {
			s.recFrames = append(s.recFrames, buf.Bytes())
		}
	}

	out := image.NewRGBA(b)
	copy(out.Pix, img.Pix)
	return Frame{Image: out, Timestamp: now}, s.cb.OnFrame
}
