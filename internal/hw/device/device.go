package device

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Category classifies a capture device by where it sits.
type Category int

const (
	CategoryUnspecified Category = iota
	CategoryInternalFront
	CategoryInternalBack
	CategoryExternal
)

func (c Category) String() string {
	switch c {
	case CategoryInternalFront:
		return "internal-front"
	case CategoryInternalBack:
		return "internal-back"
	case CategoryExternal:
		return "external"
	default:
		return "unspecified"
	}
}

// ParseCategory parses the names produced by String. Unknown names map to
// CategoryUnspecified.
func ParseCategory(s string) Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "internal-front", "front":
		return CategoryInternalFront
	case "internal-back", "back", "rear":
		return CategoryInternalBack
	case "external", "usb":
		return CategoryExternal
	default:
		return CategoryUnspecified
	}
}

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(b []byte) error {
	*c = ParseCategory(string(b))
	return nil
}

// Device is an immutable snapshot of one capture-capable device.
type Device struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Path     string   `json:"path,omitempty"` // OS node, e.g. /dev/video0
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.Category)
}

// IsZero reports whether d is the empty device.
func (d Device) IsZero() bool { return d.ID == "" }

// namespace scopes device identities to this project.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/cjeanneret/camrelay/device"))

// StableID derives an identity that stays the same across discovery passes
// for the same name and node.
func StableID(name, path string) string {
	return uuid.NewSHA1(namespace, []byte(name+"\x00"+path)).String()
}

// New builds a Device with a stable ID.
func New(name, path string, cat Category) Device {
	return Device{ID: StableID(name, path), Name: name, Category: cat, Path: path}
}

// Catalog enumerates capture-capable devices. Discover never fails: an
// enumeration that finds nothing returns an empty slice. It may be called
// from any goroutine.
type Catalog interface {
	Discover(ctx context.Context) []Device
}

// Classify guesses a category from a device name and bus.
func Classify(name string, usb bool) Category {
	n := strings.ToLower(name)
	switch {
	case strings.Contains(n, "front") || strings.Contains(n, "user-facing"):
		return CategoryInternalFront
	case strings.Contains(n, "back") || strings.Contains(n, "rear") || strings.Contains(n, "world-facing"):
		return CategoryInternalBack
	case usb:
		return CategoryExternal
	default:
		return CategoryUnspecified
	}
}

// Static is a Catalog over a fixed list.
type Static struct {
	devices []Device
}

// NewStatic creates a catalog always returning devs.
func NewStatic(devs ...Device) *Static {
	return &Static{devices: devs}
}

func (s *Static) Discover(ctx context.Context) []Device {
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out
}

// Index returns the position of the device with id in devs, or -1.
func Index(devs []Device, id string) int {
	for i, d := range devs {
		if d.ID == id {
			return i
		}
	}
	return -1
}
