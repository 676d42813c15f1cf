package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/camrelay/internal/hw/device"
)

// MaxConfigFileBytes bounds the size of a config file.
const MaxConfigFileBytes = 1 << 20

// CaptureConfig selects and tunes the capture backend.
type CaptureConfig struct {
	Backend      string `yaml:"backend"` // "simulator"
	FrameRate    int    `yaml:"frame_rate"`
	Width        int    `yaml:"width"`
	Height       int    `yaml:"height"`
	HDRSupported bool   `yaml:"hdr_supported"` // simulator only
}

// StaticDevice is a device declared in the config file.
type StaticDevice struct {
	Name     string `yaml:"name"`
	Path     string `yaml:"path"`
	Category string `yaml:"category"` // internal-front, internal-back, external
}

// DevicesConfig selects how cameras are enumerated.
type DevicesConfig struct {
	Source    string         `yaml:"source"`     // "sysfs" or "static"
	SysfsRoot string         `yaml:"sysfs_root"` // default /sys/class/video4linux
	Static    []StaticDevice `yaml:"static"`
}

// RelayConfig tunes the frame relay.
type RelayConfig struct {
	IntervalMs      int     `yaml:"interval_ms"`
	TargetWidth     int     `yaml:"target_width"`
	TargetHeight    int     `yaml:"target_height"`
	Quality         float64 `yaml:"quality"` // 0 < q <= 1
	MaxPayloadBytes int     `yaml:"max_payload_bytes"`
}

// TransportConfig selects the link to the companion device.
type TransportConfig struct {
	Type     string `yaml:"type"`   // websocket, mqtt or loopback
	URL      string `yaml:"url"`    // websocket: peer to dial
	Listen   string `yaml:"listen"` // websocket: serve peers on the web server instead of dialing
	Broker   string `yaml:"broker"` // mqtt
	Topic    string `yaml:"topic"`  // mqtt
	ClientID string `yaml:"client_id"`
}

// StateConfig locates the persisted camera state.
type StateConfig struct {
	Path   string `yaml:"path"`
	Format string `yaml:"format"` // json or msgpack
}

// MediaConfig locates saved photos and movies.
type MediaConfig struct {
	Dir string `yaml:"dir"`
}

// IndicatorConfig drives optional GPIO lamps. Pin 0 disables a lamp.
type IndicatorConfig struct {
	FlashPin  int `yaml:"flash_pin"`
	RecordPin int `yaml:"record_pin"`
	FlashMs   int `yaml:"flash_ms"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel    int    `yaml:"debug_level"`   // 0=off, 1=info, 2=live, 3=verbose, 4=trace
	MockGPIO      bool   `yaml:"mock_gpio"`     // true=dev/test, false=real Raspberry Pi
	Authorization string `yaml:"authorization"` // portal, allow or deny
}

// WebConfig configures the control server.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// Config aggregates all application configuration.
type Config struct {
	Capture   CaptureConfig   `yaml:"capture"`
	Devices   DevicesConfig   `yaml:"devices"`
	Relay     RelayConfig     `yaml:"relay"`
	Transport TransportConfig `yaml:"transport"`
	State     StateConfig     `yaml:"state"`
	Media     MediaConfig     `yaml:"media"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Web       WebConfig       `yaml:"web"`
}

// ValidateConfigPath rejects paths that are not a .yaml file directly inside
// a configs/ directory, or that contain traversal elements.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, elem := range strings.Split(filepath.ToSlash(path), "/") {
		if elem == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file larger than %d bytes", MaxConfigFileBytes)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("config file is empty")
	}
	return Parse(data)
}

// Parse decodes YAML config data, fills defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Capture.Backend == "" {
		c.Capture.Backend = "simulator"
	}
	if c.Capture.FrameRate <= 0 {
		c.Capture.FrameRate = 30
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = 640
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = 360
	}

	if c.Devices.Source == "" {
		c.Devices.Source = "sysfs"
	}
	if c.Devices.SysfsRoot == "" {
		c.Devices.SysfsRoot = "/sys/class/video4linux"
	}

	if c.Relay.IntervalMs <= 0 {
		c.Relay.IntervalMs = 1000
	}
	if c.Relay.TargetWidth <= 0 {
		c.Relay.TargetWidth = 160
	}
	if c.Relay.TargetHeight <= 0 {
		c.Relay.TargetHeight = 90
	}
	if c.Relay.Quality == 0 {
		c.Relay.Quality = 0.5
	}
	if c.Relay.MaxPayloadBytes <= 0 {
		c.Relay.MaxPayloadBytes = 64 << 10
	}

	if c.Transport.Type == "" {
		c.Transport.Type = "loopback"
	}
	if c.Transport.Topic == "" {
		c.Transport.Topic = "camrelay/frames"
	}

	if c.State.Path == "" {
		c.State.Path = filepath.Join("state", "camera_state.json")
	}
	if c.State.Format == "" {
		c.State.Format = "json"
	}
	if c.Media.Dir == "" {
		c.Media.Dir = "media"
	}
	if c.Indicator.FlashMs <= 0 {
		c.Indicator.FlashMs = 80
	}
	if c.Defaults.Authorization == "" {
		c.Defaults.Authorization = "portal"
	}
	if c.Web.Addr == "" {
		c.Web.Addr = ":8080"
	}
}

func (c *Config) validate() error {
	if c.Capture.Backend != "simulator" {
		return fmt.Errorf("unsupported capture.backend: %s", c.Capture.Backend)
	}
	switch c.Devices.Source {
	case "sysfs":
	case "static":
		if len(c.Devices.Static) == 0 {
			return errors.New("devices.static must list at least one device when source is static")
		}
		for i, d := range c.Devices.Static {
			if d.Name == "" {
				return fmt.Errorf("devices.static[%d].name is required", i)
			}
		}
	default:
		return fmt.Errorf("unsupported devices.source: %s", c.Devices.Source)
	}
	if c.Relay.Quality <= 0 || c.Relay.Quality > 1 {
		return fmt.Errorf("relay.quality must be in (0, 1], got %.2f", c.Relay.Quality)
	}
	switch c.Transport.Type {
	case "websocket":
		if c.Transport.URL == "" && c.Transport.Listen == "" {
			return errors.New("transport.url or transport.listen is required for websocket")
		}
	case "mqtt":
		if c.Transport.Broker == "" {
			return errors.New("transport.broker is required for mqtt")
		}
	case "loopback":
	default:
		return fmt.Errorf("unsupported transport.type: %s", c.Transport.Type)
	}
	switch c.State.Format {
	case "json", "msgpack":
	default:
		return fmt.Errorf("unsupported state.format: %s", c.State.Format)
	}
	switch c.Defaults.Authorization {
	case "portal", "allow", "deny":
	default:
		return fmt.Errorf("unsupported defaults.authorization: %s", c.Defaults.Authorization)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

// RelayInterval returns the minimum time between relayed frames.
func (c *Config) RelayInterval() time.Duration {
	return time.Duration(c.Relay.IntervalMs) * time.Millisecond
}

// FlashPulse returns how long the flash lamp stays lit.
func (c *Config) FlashPulse() time.Duration {
	return time.Duration(c.Indicator.FlashMs) * time.Millisecond
}

// StaticDevices converts the declared devices.
func (c *Config) StaticDevices() []device.Device {
	out := make([]device.Device, 0, len(c.Devices.Static))
	for _, d := range c.Devices.Static {
		out = append(out, device.New(d.Name, d.Path, device.ParseCategory(d.Category)))
	}
	return out
}
