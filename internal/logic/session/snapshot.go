// Package session is the top-level camera orchestrator: discovery,
// selection, authorization and the user-facing settings, exposed as one
// observable snapshot.
package session

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/camrelay/internal/hw/device"
	"github.com/cjeanneret/camrelay/internal/logic/capture"
	"github.com/cjeanneret/camrelay/internal/state"
)

var (
	ErrAuthorizationDenied = errors.New("camera access not authorized")
	ErrNoDevicesFound      = errors.New("no capture devices found")
	ErrCaptureWrite        = errors.New("saving capture failed")
	ErrUnknownDevice       = errors.New("unknown device")
)

// Status is the user-facing camera status.
type Status int

const (
	StatusUnknown Status = iota
	StatusRunning
	StatusFailed
	StatusUnauthorized
	StatusDisconnected
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusDisconnected:
		return "disconnected"
	case StatusInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Snapshot is everything a presentation layer needs, published as a whole
// on every change.
type Snapshot struct {
	Status                   Status          `json:"status"`
	Devices                  []device.Device `json:"devices"`
	SelectedDevice           *device.Device  `json:"selected_device,omitempty"`
	ShowDeviceSelectionModal bool            `json:"show_device_selection_modal"`
	IsDiscovering            bool            `json:"is_discovering"`

	CaptureMode           state.Mode                  `json:"capture_mode"`
	QualityPrioritization state.QualityPrioritization `json:"quality_prioritization"`
	IsLivePhotoEnabled    bool                        `json:"is_live_photo_enabled"`
	IsHDRVideoEnabled     bool                        `json:"is_hdr_video_enabled"`
	IsHDRVideoSupported   bool                        `json:"is_hdr_video_supported"`

	IsSwitchingVideoDevices bool `json:"is_switching_video_devices"`
	IsSwitchingModes        bool `json:"is_switching_modes"`

	CaptureActivity   capture.Activity `json:"capture_activity"`
	ShouldFlashScreen bool             `json:"should_flash_screen"`
	LastCapture       string           `json:"last_capture,omitempty"`

	// Error is a one-shot capture failure message, cleared by ClearError.
	Error string `json:"error,omitempty"`

	RelayConnected bool `json:"relay_connected"`
}

// Selected returns the selected device id, or "".
func (s Snapshot) Selected() string {
	if s.SelectedDevice == nil {
		return ""
	}
	return s.SelectedDevice.ID
}

func applyState(s *Snapshot, st state.CameraState) {
	s.CaptureMode = st.CaptureMode
	s.QualityPrioritization = st.QualityPrioritization
	s.IsLivePhotoEnabled = st.IsLivePhotoEnabled
	s.IsHDRVideoEnabled = st.IsVideoHDREnabled
	s.IsHDRVideoSupported = st.IsVideoHDRSupported
}
