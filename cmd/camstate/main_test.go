package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cjeanneret/camrelay/internal/state"
)

func runArgs(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestGet_DefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	out, err := runArgs(t, "-state", path, "-format", "json", "get", "captureMode")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "photo" {
		t.Errorf("captureMode = %q, want photo", out)
	}
}

func TestSetThenGet(t *testing.T) {
	for _, format := range []string{"json", "msgpack"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "state."+format)
			if _, err := runArgs(t, "-state", path, "-format", format,
				"set", "captureMode=video", "isVideoHDREnabled=true", "qualityPrioritization=speed"); err != nil {
				t.Fatal(err)
			}

			codec, _ := state.CodecByName(format)
			st, err := state.NewFileStore(path, codec).Load(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if st.CaptureMode != state.ModeVideo || !st.IsVideoHDREnabled || st.QualityPrioritization != state.QualitySpeed {
				t.Errorf("persisted = %+v", st)
			}
			if !st.IsLivePhotoEnabled {
				t.Error("untouched keys must keep their value")
			}

			out, err := runArgs(t, "-state", path, "-format", format, "get", "isVideoHDREnabled")
			if err != nil || strings.TrimSpace(out) != "true" {
				t.Errorf("get = %q, %v", out, err)
			}
		})
	}
}

func TestSet_Rejections(t *testing.T) {
	cases := [][]string{
		{"set", "captureMode=panorama"},
		{"set", "isVideoHDRSupported=true"},
		{"set", "isLivePhotoEnabled=maybe"},
		{"set", "nope=1"},
		{"set", "isVideoHDREnabled=true"}, // photo mode
	}
	for _, args := range cases {
		path := filepath.Join(t.TempDir(), "state.json")
		if _, err := runArgs(t, append([]string{"-state", path, "-format", "json"}, args...)...); err == nil {
			t.Errorf("%v: expected error", args)
		}
		if _, err := os.Stat(path); err == nil {
			t.Errorf("%v: state written despite error", args)
		}
	}
}

func TestUsage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	for _, args := range [][]string{
		{},
		{"frobnicate"},
		{"set"},
		{"set", "novalue"},
		{"get", "a", "b"},
	} {
		_, err := runArgs(t, append([]string{"-state", path, "-format", "json"}, args...)...)
		if !errors.Is(err, errUsage) {
			t.Errorf("%v: err = %v, want usage error", args, err)
		}
	}
}

func TestStateFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	statePath := filepath.Join(dir, "shared.msgpack")
	cfgPath := filepath.Join(cfgDir, "default.yaml")
	yaml := "state:\n  path: " + statePath + "\n  format: msgpack\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := runArgs(t, "-config", cfgPath, "set", "isLivePhotoEnabled=false"); err != nil {
		t.Fatal(err)
	}
	st, err := state.NewFileStore(statePath, state.MsgPack).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.IsLivePhotoEnabled {
		t.Error("config-located msgpack store not updated")
	}
}
