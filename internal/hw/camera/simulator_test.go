package camera

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cjeanneret/camrelay/internal/hw/device"
	"github.com/cjeanneret/camrelay/internal/state"
)

func openSimulator(t *testing.T, cfg SimulatorConfig, st state.CameraState, cb Callbacks) *Simulator {
	t.Helper()
	sim := NewSimulator(cfg)
	if _, err := sim.Open(context.Background(), device.New("Sim", "", device.CategoryExternal), st, cb); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { sim.Close() })
	return sim
}

func TestSimulator_DeliversFrames(t *testing.T) {
	var count atomic.Int32
	got := make(chan Frame, 1)
	openSimulator(t, SimulatorConfig{Width: 32, Height: 18, FrameRate: 100}, state.Default(), Callbacks{
		OnFrame: func(f Frame) {
			if count.Add(1) == 3 {
				got <- f
			}
		},
	})

	select {
	case f := <-got:
		if f.Image.Bounds().Dx() != 32 || f.Image.Bounds().Dy() != 18 {
			t.Errorf("frame size = %v, want 32x18", f.Image.Bounds())
		}
		if f.Timestamp.IsZero() {
			t.Error("frame should carry a timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frames")
	}
}

func TestSimulator_CloseStopsDelivery(t *testing.T) {
	var count atomic.Int32
	sim := NewSimulator(SimulatorConfig{Width: 8, Height: 8, FrameRate: 200})
	if _, err := sim.Open(context.Background(), device.Device{}, state.Default(), Callbacks{
		OnFrame: func(Frame) { count.Add(1) },
	}); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	if err := sim.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sim.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	after := count.Load()
	time.Sleep(30 * time.Millisecond)
	if count.Load() != after {
		t.Error("frames delivered after Close")
	}
}

func TestSimulator_CapabilitiesFollowMode(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Width: 8, Height: 8, HDRSupported: true})
	caps, err := sim.Open(context.Background(), device.Device{}, state.Default(), Callbacks{})
	if err != nil {
		t.Fatal(err)
	}
	defer sim.Close()
	if caps.HDRVideoSupported {
		t.Error("HDR should not be advertised in photo mode")
	}
	caps, err = sim.SetMode(context.Background(), state.ModeVideo)
	if err != nil {
		t.Fatal(err)
	}
	if !caps.HDRVideoSupported {
		t.Error("HDR should be advertised in video mode")
	}
}

func TestSimulator_CapturePhotoIsJPEG(t *testing.T) {
	sim := openSimulator(t, SimulatorConfig{Width: 16, Height: 16, FrameRate: 50}, state.Default(), Callbacks{})
	p, err := sim.CapturePhoto(context.Background(), PhotoFeatures{LivePhotoEnabled: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := jpeg.Decode(bytes.NewReader(p.Data)); err != nil {
		t.Errorf("photo is not a JPEG: %v", err)
	}
	if !p.LivePhoto {
		t.Error("live photo flag should be set in photo mode")
	}
}

func TestSimulator_Recording(t *testing.T) {
	sim := openSimulator(t, SimulatorConfig{Width: 8, Height: 8, FrameRate: 200}, state.Default(), Callbacks{})
	if _, err := sim.StopRecording(context.Background()); err == nil {
		t.Error("StopRecording without StartRecording should fail")
	}
	if err := sim.StartRecording(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	m, err := sim.StopRecording(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if m.Frames == 0 || len(m.Data) == 0 {
		t.Errorf("movie has %d frames and %d bytes", m.Frames, len(m.Data))
	}
}

func TestSimulator_OperationsBeforeOpen(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{})
	if _, err := sim.SwitchDevice(context.Background(), device.Device{}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("SwitchDevice err = %v, want ErrNotOpen", err)
	}
	if err := sim.SetHDRVideo(context.Background(), true); !errors.Is(err, ErrNotOpen) {
		t.Errorf("SetHDRVideo err = %v, want ErrNotOpen", err)
	}
}

func TestSimulator_Interrupt(t *testing.T) {
	got := make(chan Interruption, 1)
	sim := openSimulator(t, SimulatorConfig{Width: 8, Height: 8}, state.Default(), Callbacks{
		OnInterruption: func(i Interruption) { got <- i },
	})
	sim.Interrupt(InterruptionDisconnected)
	if i := <-got; i != InterruptionDisconnected {
		t.Errorf("interruption = %v, want disconnected", i)
	}
}

func TestPointValid(t *testing.T) {
	if !(Point{0.5, 0.5}).Valid() {
		t.Error("center should be valid")
	}
	if (Point{1.5, 0}).Valid() {
		t.Error("x > 1 should be invalid")
	}
}
