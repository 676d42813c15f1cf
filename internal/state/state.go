// Package state holds the durable camera settings shared between the
// daemon and other processes (such as cmd/camstate), and the stores that
// persist them.
package state

import (
	"context"
	"fmt"
	"strings"
)

// Mode is the capture mode of the camera.
type Mode int

const (
	ModePhoto Mode = iota
	ModeVideo
)

func (m Mode) String() string {
	switch m {
	case ModePhoto:
		return "photo"
	case ModeVideo:
		return "video"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode parses "photo" or "video".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "photo":
		return ModePhoto, nil
	case "video":
		return ModeVideo, nil
	default:
		return ModePhoto, fmt.Errorf("unknown capture mode %q", s)
	}
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// QualityPrioritization balances photo quality against capture speed.
type QualityPrioritization int

const (
	QualitySpeed QualityPrioritization = iota
	QualityBalanced
	QualityQuality
)

func (q QualityPrioritization) String() string {
	switch q {
	case QualitySpeed:
		return "speed"
	case QualityBalanced:
		return "balanced"
	case QualityQuality:
		return "quality"
	default:
		return fmt.Sprintf("quality(%d)", int(q))
	}
}

// ParseQuality parses "speed", "balanced" or "quality".
func ParseQuality(s string) (QualityPrioritization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "speed":
		return QualitySpeed, nil
	case "balanced":
		return QualityBalanced, nil
	case "quality":
		return QualityQuality, nil
	default:
		return QualityQuality, fmt.Errorf("unknown quality prioritization %q", s)
	}
}

func (q QualityPrioritization) MarshalText() ([]byte, error) { return []byte(q.String()), nil }

func (q *QualityPrioritization) UnmarshalText(b []byte) error {
	v, err := ParseQuality(string(b))
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// CameraState is the persisted subset of camera settings.
type CameraState struct {
	CaptureMode           Mode                  `json:"captureMode" msgpack:"captureMode"`
	QualityPrioritization QualityPrioritization `json:"qualityPrioritization" msgpack:"qualityPrioritization"`
	IsLivePhotoEnabled    bool                  `json:"isLivePhotoEnabled" msgpack:"isLivePhotoEnabled"`
	IsVideoHDREnabled     bool                  `json:"isVideoHDREnabled" msgpack:"isVideoHDREnabled"`
	IsVideoHDRSupported   bool                  `json:"isVideoHDRSupported" msgpack:"isVideoHDRSupported"`
}

// Default returns the state used when nothing has been persisted yet.
func Default() CameraState {
	return CameraState{
		CaptureMode:           ModePhoto,
		QualityPrioritization: QualityQuality,
		IsLivePhotoEnabled:    true,
	}
}

// Store loads and saves a whole CameraState record.
type Store interface {
	Load(ctx context.Context) (CameraState, error)
	Save(ctx context.Context, s CameraState) error
}
