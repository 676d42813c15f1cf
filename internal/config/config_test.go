package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cjeanneret/camrelay/internal/hw/device"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
		"configs/../configs/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"default.yaml",
		"/tmp/default.yaml",
		"configs/nested/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestValidateConfigPath_SpecialChars(t *testing.T) {
	for _, name := range []string{"con fig.yaml", "café.yaml"} {
		if err := ValidateConfigPath(filepath.Join("configs", name)); err != nil {
			t.Errorf("unexpected error for %q: %v", name, err)
		}
	}
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
capture:
  backend: simulator
  frame_rate: 15
  width: 320
  height: 240
  hdr_supported: true
devices:
  source: static
  static:
    - name: "Back Camera"
      path: /dev/video0
      category: internal-back
    - name: "USB Cam"
      path: /dev/video2
      category: external
relay:
  interval_ms: 500
  target_width: 120
  target_height: 90
  quality: 0.7
transport:
  type: mqtt
  broker: localhost:1883
  topic: test/frames
state:
  path: /tmp/state.msgpack
  format: msgpack
media:
  dir: /tmp/media
indicator:
  flash_pin: 17
  record_pin: 27
  flash_ms: 120
defaults:
  debug_level: 2
  mock_gpio: true
  authorization: allow
web:
  addr: ":9090"
`

func TestLoad_ValidFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.FrameRate != 15 || cfg.Capture.Width != 320 || !cfg.Capture.HDRSupported {
		t.Errorf("capture = %+v", cfg.Capture)
	}
	if cfg.Devices.Source != "static" || len(cfg.Devices.Static) != 2 {
		t.Fatalf("devices = %+v", cfg.Devices)
	}
	if cfg.RelayInterval() != 500*time.Millisecond {
		t.Errorf("RelayInterval = %v, want 500ms", cfg.RelayInterval())
	}
	if cfg.Relay.Quality != 0.7 {
		t.Errorf("relay.quality = %v, want 0.7", cfg.Relay.Quality)
	}
	if cfg.Transport.Type != "mqtt" || cfg.Transport.Topic != "test/frames" {
		t.Errorf("transport = %+v", cfg.Transport)
	}
	if cfg.State.Format != "msgpack" {
		t.Errorf("state.format = %q", cfg.State.Format)
	}
	if cfg.FlashPulse() != 120*time.Millisecond {
		t.Errorf("FlashPulse = %v, want 120ms", cfg.FlashPulse())
	}
	if cfg.Defaults.Authorization != "allow" || cfg.Web.Addr != ":9090" {
		t.Errorf("defaults/web = %+v %+v", cfg.Defaults, cfg.Web)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, "defaults:\n  mock_gpio: true\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.Backend != "simulator" || cfg.Capture.FrameRate != 30 {
		t.Errorf("capture defaults = %+v", cfg.Capture)
	}
	if cfg.Devices.Source != "sysfs" || cfg.Devices.SysfsRoot != "/sys/class/video4linux" {
		t.Errorf("devices defaults = %+v", cfg.Devices)
	}
	if cfg.RelayInterval() != time.Second {
		t.Errorf("RelayInterval default = %v, want 1s", cfg.RelayInterval())
	}
	if cfg.Relay.TargetWidth != 160 || cfg.Relay.TargetHeight != 90 {
		t.Errorf("relay target default = %dx%d, want 160x90", cfg.Relay.TargetWidth, cfg.Relay.TargetHeight)
	}
	if cfg.Relay.Quality != 0.5 {
		t.Errorf("relay.quality default = %v, want 0.5", cfg.Relay.Quality)
	}
	if cfg.Relay.MaxPayloadBytes != 64<<10 {
		t.Errorf("relay.max_payload_bytes default = %d", cfg.Relay.MaxPayloadBytes)
	}
	if cfg.Transport.Type != "loopback" {
		t.Errorf("transport.type default = %q, want loopback", cfg.Transport.Type)
	}
	if cfg.State.Format != "json" {
		t.Errorf("state.format default = %q, want json", cfg.State.Format)
	}
	if cfg.Defaults.Authorization != "portal" {
		t.Errorf("authorization default = %q, want portal", cfg.Defaults.Authorization)
	}
	if cfg.Web.Addr != ":8080" {
		t.Errorf("web.addr default = %q", cfg.Web.Addr)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"backend", "capture:\n  backend: v4l2\n"},
		{"device_source", "devices:\n  source: udev\n"},
		{"static_without_devices", "devices:\n  source: static\n"},
		{"static_without_name", "devices:\n  source: static\n  static:\n    - path: /dev/video0\n"},
		{"quality_negative", "relay:\n  quality: -0.1\n"},
		{"quality_over_one", "relay:\n  quality: 1.5\n"},
		{"transport_type", "transport:\n  type: serial\n"},
		{"websocket_without_url", "transport:\n  type: websocket\n"},
		{"mqtt_without_broker", "transport:\n  type: mqtt\n"},
		{"state_format", "state:\n  format: xml\n"},
		{"authorization", "defaults:\n  authorization: maybe\n"},
		{"debug_level", "defaults:\n  debug_level: 9\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Errorf("expected error for %s, got nil", tc.name)
			}
		})
	}
}

func TestLoad_WebsocketListen(t *testing.T) {
	cfg, err := Load(writeConfig(t, "transport:\n  type: websocket\n  listen: /relay\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transport.Listen != "/relay" {
		t.Errorf("transport.listen = %q", cfg.Transport.Listen)
	}
}

func TestStaticDevices(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}
	devs := cfg.StaticDevices()
	if len(devs) != 2 {
		t.Fatalf("got %d devices, want 2", len(devs))
	}
	if devs[0].Category != device.CategoryInternalBack || devs[1].Category != device.CategoryExternal {
		t.Errorf("categories = %v, %v", devs[0].Category, devs[1].Category)
	}
	if devs[0].ID != device.StableID("Back Camera", "/dev/video0") {
		t.Errorf("device id not stable: %s", devs[0].ID)
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	path := writeConfig(t, strings.Repeat("#", MaxConfigFileBytes+1))
	if _, err := Load(path); err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "{{{{invalid yaml!!!!")); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "")); err == nil {
		t.Error("expected error for empty config, got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	yaml := `
relay:
  interval_ms: 250
unknown_section:
  foo: bar
`
	if _, err := Load(writeConfig(t, yaml)); err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "nonexistent.yaml")
	if _, err := Load(path); err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}
