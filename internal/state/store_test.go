package state

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func sampleState() CameraState {
	return CameraState{
		CaptureMode:           ModeVideo,
		QualityPrioritization: QualityBalanced,
		IsLivePhotoEnabled:    false,
		IsVideoHDREnabled:     true,
		IsVideoHDRSupported:   true,
	}
}

func TestFileStore_MissingFileReturnsDefault(t *testing.T) {
	st := NewFileStore(filepath.Join(t.TempDir(), "state.json"), JSON)
	got, err := st.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != Default() {
		t.Errorf("Load = %+v, want default %+v", got, Default())
	}
}

func TestFileStore_RoundTripAllFields(t *testing.T) {
	for _, codec := range []Codec{JSON, MsgPack} {
		t.Run(codec.Name(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "state."+codec.Name())
			st := NewFileStore(path, codec)
			want := sampleState()
			if err := st.Save(context.Background(), want); err != nil {
				t.Fatalf("Save: %v", err)
			}

			// A second store on the same path stands in for another process.
			other := NewFileStore(path, codec)
			got, err := other.Load(context.Background())
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if got != want {
				t.Errorf("round trip = %+v, want %+v", got, want)
			}
		})
	}
}

func TestFileStore_JSONUsesNamedModes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st := NewFileStore(path, JSON)
	if err := st.Save(context.Background(), sampleState()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"captureMode": "video"`) {
		t.Errorf("expected textual capture mode in %s", data)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path, JSON).Load(context.Background()); err == nil {
		t.Error("expected decode error for corrupt file")
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	st := NewFileStore(filepath.Join(dir, "state.json"), JSON)
	for i := 0; i < 5; i++ {
		if err := st.Save(context.Background(), sampleState()); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("expected only state.json, found %v", names)
	}
}

func TestFileStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := NewFileStore(filepath.Join(t.TempDir(), "s.json"), JSON)
	if err := st.Save(ctx, sampleState()); !errors.Is(err, context.Canceled) {
		t.Errorf("Save err = %v, want context.Canceled", err)
	}
}

func TestCodecByName(t *testing.T) {
	cases := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "json", false},
		{"json", "json", false},
		{"msgpack", "msgpack", false},
		{"xml", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := CodecByName(tc.name)
			if tc.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if c.Name() != tc.want {
				t.Errorf("codec = %s, want %s", c.Name(), tc.want)
			}
		})
	}
}

func TestParseModeAndQuality(t *testing.T) {
	if m, err := ParseMode(" Video "); err != nil || m != ModeVideo {
		t.Errorf("ParseMode = %v, %v", m, err)
	}
	if _, err := ParseMode("panorama"); err == nil {
		t.Error("expected error for unknown mode")
	}
	if q, err := ParseQuality("speed"); err != nil || q != QualitySpeed {
		t.Errorf("ParseQuality = %v, %v", q, err)
	}
	if _, err := ParseQuality("max"); err == nil {
		t.Error("expected error for unknown quality")
	}
}

func TestCell_UpdateWritesWholeRecord(t *testing.T) {
	store := NewMemoryStore(Default())
	cell := NewCell(store)
	if _, err := cell.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, err := cell.Update(context.Background(), func(s CameraState) CameraState {
		s.CaptureMode = ModeVideo
		s.IsVideoHDREnabled = true
		return s
	})
	if err != nil {
		t.Fatal(err)
	}
	persisted, _ := store.Load(context.Background())
	if persisted != got || cell.Get() != got {
		t.Errorf("persisted %+v, cell %+v, returned %+v", persisted, cell.Get(), got)
	}
	if !persisted.IsLivePhotoEnabled {
		t.Error("untouched fields must be carried over")
	}
}

func TestCell_UpdateKeepsOutsideEdits(t *testing.T) {
	store := NewMemoryStore(Default())
	cell := NewCell(store)
	if _, err := cell.Sync(context.Background()); err != nil {
		t.Fatal(err)
	}

	// another process flips live photo behind the cell's back
	outside := Default()
	outside.IsLivePhotoEnabled = false
	if err := store.Save(context.Background(), outside); err != nil {
		t.Fatal(err)
	}

	got, err := cell.Update(context.Background(), func(s CameraState) CameraState {
		s.QualityPrioritization = QualitySpeed
		return s
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.IsLivePhotoEnabled {
		t.Error("update overwrote a change saved by another writer")
	}
	if got.QualityPrioritization != QualitySpeed {
		t.Errorf("quality = %s, want speed", got.QualityPrioritization)
	}
	persisted, _ := store.Load(context.Background())
	if persisted != got || cell.Get() != got {
		t.Errorf("persisted %+v, cell %+v, returned %+v", persisted, cell.Get(), got)
	}
}

type failingStore struct{}

func (failingStore) Load(context.Context) (CameraState, error) {
	return CameraState{}, errors.New("boom")
}
func (failingStore) Save(context.Context, CameraState) error { return errors.New("boom") }

func TestCell_SaveFailureKeepsMemory(t *testing.T) {
	cell := NewCell(failingStore{})
	if _, err := cell.Sync(context.Background()); err == nil {
		t.Error("expected sync error")
	}
	got, err := cell.Update(context.Background(), func(s CameraState) CameraState {
		s.IsLivePhotoEnabled = false
		return s
	})
	if err == nil {
		t.Error("expected save error")
	}
	if got.IsLivePhotoEnabled || cell.Get().IsLivePhotoEnabled {
		t.Error("in-memory record should still be updated")
	}
}

func TestCell_ConcurrentUpdates(t *testing.T) {
	store := NewMemoryStore(Default())
	cell := NewCell(store)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cell.Update(context.Background(), func(s CameraState) CameraState {
				s.IsVideoHDREnabled = i%2 == 0
				return s
			})
		}(i)
	}
	wg.Wait()
	if store.Saves() != 50 {
		t.Errorf("saves = %d, want 50", store.Saves())
	}
	persisted, _ := store.Load(context.Background())
	if persisted != cell.Get() {
		t.Errorf("store %+v and cell %+v diverged", persisted, cell.Get())
	}
}
