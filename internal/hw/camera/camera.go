package camera

import (
	"context"
	"image"
	"time"

	"github.com/cjeanneret/camrelay/internal/hw/device"
	"github.com/cjeanneret/camrelay/internal/state"
)

// Frame is one decoded still delivered by the hardware.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
}

// Capabilities describes what the bound device can do.
type Capabilities struct {
	HDRVideoSupported  bool `json:"hdr_video_supported"`
	LivePhotoSupported bool `json:"live_photo_supported"`
}

// Interruption reports that the hardware stopped delivering frames for a
// reason outside our control.
type Interruption int

const (
	InterruptionNone Interruption = iota
	InterruptionInterrupted
	InterruptionDisconnected
)

func (i Interruption) String() string {
	switch i {
	case InterruptionInterrupted:
		return "interrupted"
	case InterruptionDisconnected:
		return "disconnected"
	default:
		return "none"
	}
}

// Point is a normalized position in the frame, both axes in [0,1].
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Valid reports whether p lies inside the frame.
func (p Point) Valid() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

// PhotoFeatures are the per-shot options.
type PhotoFeatures struct {
	LivePhotoEnabled      bool
	QualityPrioritization state.QualityPrioritization
}

// Photo is an encoded still.
type Photo struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
	LivePhoto   bool
}

// Movie is an encoded recording.
type Movie struct {
	Data        []byte
	ContentType string
	Duration    time.Duration
	Frames      int
}

// Callbacks are invoked by the hardware from its own goroutines. OnFrame
// runs on the frame-delivery goroutine and must return quickly.
type Callbacks struct {
	OnFrame        func(Frame)
	OnInterruption func(Interruption)
}

// Hardware is the platform capture backend. Implementations need not be safe
// for overlapping reconfiguration calls; callers serialize them.
type Hardware interface {
	// Open binds the device and starts frame delivery with the given settings.
	Open(ctx context.Context, dev device.Device, st state.CameraState, cb Callbacks) (Capabilities, error)
	// SwitchDevice hot-swaps the input while running. On failure the
	// previous device stays bound.
	SwitchDevice(ctx context.Context, dev device.Device) (Capabilities, error)
	// SetMode reconfigures the pipeline for photo or video capture.
	SetMode(ctx context.Context, mode state.Mode) (Capabilities, error)
	SetHDRVideo(ctx context.Context, enabled bool) error
	FocusAndExpose(ctx context.Context, p Point) error
	CapturePhoto(ctx context.Context, f PhotoFeatures) (Photo, error)
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (Movie, error)
	// Close stops frame delivery and releases the device. Safe to call more
	// than once.
	Close() error
}
