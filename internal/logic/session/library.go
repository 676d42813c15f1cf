package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cjeanneret/camrelay/internal/debug"
	"github.com/cjeanneret/camrelay/internal/hw/camera"
)

// MediaLibrary saves captured media and returns where it went.
type MediaLibrary interface {
	SavePhoto(ctx context.Context, p camera.Photo) (string, error)
	SaveMovie(ctx context.Context, m camera.Movie) (string, error)
}

// DirLibrary writes captures as files into a directory.
type DirLibrary struct {
	dir string
	now func() time.Time

	mu   sync.Mutex
	last string
}

// NewDirLibrary creates a library rooted at dir. The directory is created
// on first save.
func NewDirLibrary(dir string) *DirLibrary {
	return &DirLibrary{dir: dir, now: time.Now}
}

func (l *DirLibrary) SavePhoto(ctx context.Context, p camera.Photo) (string, error) {
	ext := ".jpg"
	if p.LivePhoto {
		ext = ".live.jpg"
	}
	return l.save(ctx, "photo", ext, p.Data)
}

func (l *DirLibrary) SaveMovie(ctx context.Context, m camera.Movie) (string, error) {
	return l.save(ctx, "movie", ".mjpeg", m.Data)
}

func (l *DirLibrary) save(ctx context.Context, kind, ext string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%s is empty", kind)
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", l.dir, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	base := kind + "-" + l.now().Format("20060102-150405.000")
	name := filepath.Join(l.dir, base+ext)
	for i := 1; name == l.last || exists(name); i++ {
		name = filepath.Join(l.dir, fmt.Sprintf("%s-%d%s", base, i, ext))
	}

	tmp, err := os.CreateTemp(l.dir, ".capture-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		return "", err
	}
	l.last = name
	debug.Info("Library: saved %s (%d bytes)", name, len(data))
	return name, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
