package state

import (
	"context"
	"sync"

	"github.com/cjeanneret/camrelay/internal/debug"
)

// Cell is the in-process owner of the current CameraState. Every change
// produces a new whole record which is then written through to the Store;
// readers never observe a partially applied update.
type Cell struct {
	mu    sync.Mutex
	cur   CameraState
	store Store
}

// NewCell creates a cell backed by store, starting from Default().
func NewCell(store Store) *Cell {
	return &Cell{cur: Default(), store: store}
}

// Get returns a copy of the current record.
func (c *Cell) Get() CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Sync reloads the record from the store. On error the in-memory record is
// kept and returned along with the error.
func (c *Cell) Sync(ctx context.Context) (CameraState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.store.Load(ctx)
	if err != nil {
		return c.cur, err
	}
	c.cur = s
	return s, nil
}

// Update reloads the record from the store, applies fn and persists the
// result, so edits made by another process since the last load are kept.
// When the reload fails fn sees the in-memory record. The in-memory record
// is replaced even if the save fails; the error is returned so the caller
// can log it.
func (c *Cell) Update(ctx context.Context, fn func(CameraState) CameraState) (CameraState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, err := c.store.Load(ctx)
	if err != nil {
		debug.Verbose("State: reload before update failed: %v", err)
		cur = c.cur
	}
	next := fn(cur)
	c.cur = next
	if err := c.store.Save(ctx, next); err != nil {
		debug.Warn("State: save failed: %v", err)
		return next, err
	}
	return next, nil
}
