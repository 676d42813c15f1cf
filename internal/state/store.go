package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/cjeanneret/camrelay/internal/debug"
)

// Codec serializes a CameraState record.
type Codec interface {
	Name() string
	Marshal(s CameraState) ([]byte, error)
	Unmarshal(data []byte, s *CameraState) error
}

// JSON encodes the record as indented JSON.
var JSON Codec = jsonCodec{}

// MsgPack encodes the record as MessagePack.
var MsgPack Codec = msgpackCodec{}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }
func (jsonCodec) Marshal(s CameraState) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
func (jsonCodec) Unmarshal(data []byte, s *CameraState) error {
	return json.Unmarshal(data, s)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) Marshal(s CameraState) ([]byte, error) {
	return msgpack.Marshal(s)
}
func (msgpackCodec) Unmarshal(data []byte, s *CameraState) error {
	return msgpack.Unmarshal(data, s)
}

// CodecByName returns the codec for "json" or "msgpack".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("unknown state format %q", name)
	}
}

// FileStore persists the record in a single file. Saves write a temporary
// file next to the target and rename it into place, so a concurrent reader in
// another process sees either the old record or the new one.
type FileStore struct {
	path  string
	codec Codec
	mu    sync.Mutex
}

// NewFileStore creates a store at path using codec (JSON when nil).
func NewFileStore(path string, codec Codec) *FileStore {
	if codec == nil {
		codec = JSON
	}
	return &FileStore{path: path, codec: codec}
}

// Path returns the backing file path.
func (f *FileStore) Path() string { return f.path }

// Load reads the record. A missing file yields Default().
func (f *FileStore) Load(ctx context.Context) (CameraState, error) {
	if err := ctx.Err(); err != nil {
		return CameraState{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		debug.Verbose("State: %s not found, using defaults", f.path)
		return Default(), nil
	}
	if err != nil {
		return CameraState{}, fmt.Errorf("read state file: %w", err)
	}

	s := Default()
	if err := f.codec.Unmarshal(data, &s); err != nil {
		return CameraState{}, fmt.Errorf("decode state (%s): %w", f.codec.Name(), err)
	}
	return s, nil
}

// Save replaces the record atomically.
func (f *FileStore) Save(ctx context.Context, s CameraState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := f.codec.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode state (%s): %w", f.codec.Name(), err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	debug.Trace("State: saved %+v to %s", s, f.path)
	return nil
}

// MemoryStore keeps the record in memory. Used in tests and when no state
// path is configured.
type MemoryStore struct {
	mu    sync.Mutex
	s     CameraState
	saves int
}

// NewMemoryStore creates a store holding initial.
func NewMemoryStore(initial CameraState) *MemoryStore {
	return &MemoryStore{s: initial}
}

func (m *MemoryStore) Load(ctx context.Context) (CameraState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s, nil
}

func (m *MemoryStore) Save(ctx context.Context, s CameraState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.s = s
	m.saves++
	return nil
}

// Saves returns the number of Save calls.
func (m *MemoryStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
