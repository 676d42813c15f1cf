package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrHardwareStart     = errors.New("hardware start failed")
	ErrDeviceSwitch      = errors.New("device switch failed")
	ErrModeSwitch        = errors.New("mode switch failed")
	ErrSwitchInProgress  = errors.New("switch already in progress")
	ErrNotRunning        = errors.New("capture session not running")
	ErrCaptureInProgress = errors.New("capture already in progress")
	ErrNotRecording      = errors.New("not recording")
	ErrWrongMode         = errors.New("operation not available in current capture mode")
	ErrNoDevices         = errors.New("no capture devices found")
	ErrStopped           = errors.New("capture session stopped")
)

// State is the hardware pipeline state.
type State int

const (
	StateIdle State = iota
	StateAuthorizing
	StateStarting
	StateRunning
	StateSwitchingDevice
	StateSwitchingMode
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthorizing:
		return "authorizing"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateSwitchingDevice:
		return "switchingDevice"
	case StateSwitchingMode:
		return "switchingMode"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ActivityKind is what the camera is currently capturing.
type ActivityKind int

const (
	ActivityIdle ActivityKind = iota
	ActivityPhotoCapture
	ActivityMovieCapture
)

func (k ActivityKind) String() string {
	switch k {
	case ActivityPhotoCapture:
		return "photoCapture"
	case ActivityMovieCapture:
		return "movieCapture"
	default:
		return "idle"
	}
}

func (k ActivityKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Activity is published on every capture transition. A value with
// WillCapture set is a short pulse emitted right before a capture starts so
// observers can show feedback ahead of the capture itself.
type Activity struct {
	Kind        ActivityKind  `json:"kind"`
	Duration    time.Duration `json:"duration,omitempty"` // movie capture only
	WillCapture bool          `json:"will_capture,omitempty"`
}

func (a Activity) String() string {
	switch {
	case a.WillCapture:
		return "willCapture"
	case a.Kind == ActivityMovieCapture:
		return fmt.Sprintf("movieCapture(%s)", a.Duration.Truncate(time.Millisecond))
	default:
		return a.Kind.String()
	}
}

// Authorizer answers whether the user allows camera use.
type Authorizer interface {
	Authorized(ctx context.Context) bool
}
