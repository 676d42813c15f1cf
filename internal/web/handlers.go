package web

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/camrelay/internal/debug"
	"github.com/cjeanneret/camrelay/internal/hw/camera"
	"github.com/cjeanneret/camrelay/internal/logic/capture"
	"github.com/cjeanneret/camrelay/internal/logic/session"
	"github.com/cjeanneret/camrelay/internal/observe"
	"github.com/cjeanneret/camrelay/internal/state"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 64 << 10

// Controller is the camera surface the handlers drive. *session.Machine
// implements it.
type Controller interface {
	Snapshot() session.Snapshot
	Updates() *observe.Value[session.Snapshot]

	DiscoverDevices(ctx context.Context) error
	SelectDeviceByID(ctx context.Context, id string) error
	SwitchVideoDevices(ctx context.Context) error

	SetCaptureMode(ctx context.Context, mode state.Mode) error
	SetHDRVideoEnabled(ctx context.Context, enabled bool) error
	SetLivePhotoEnabled(ctx context.Context, enabled bool) error
	SetQualityPrioritization(ctx context.Context, q state.QualityPrioritization) error
	FocusAndExpose(ctx context.Context, p camera.Point) error

	CapturePhoto(ctx context.Context) error
	ToggleRecording(ctx context.Context) error
	ClearError()
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Camera      Controller
	staticFS    fs.FS
}

// NewHandlers creates handlers. With a nil camera every control route
// answers 503.
func NewHandlers(broadcaster *StatusBroadcaster, cam Controller, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Camera:      cam,
		staticFS:    staticFS,
	}
}

type selectRequest struct {
	ID string `json:"id"`
}

type modeRequest struct {
	Mode state.Mode `json:"mode"`
}

// settingsRequest carries optional setting changes; absent fields are left
// alone.
type settingsRequest struct {
	HDRVideo              *bool                        `json:"hdr_video,omitempty"`
	LivePhoto             *bool                        `json:"live_photo,omitempty"`
	QualityPrioritization *state.QualityPrioritization `json:"quality_prioritization,omitempty"`
}

// ServeIndex serves the control page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleState returns the current snapshot.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	writeJSON(w, http.StatusOK, h.Camera.Snapshot())
}

func (h *Handlers) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context) error { return h.Camera.DiscoverDevices(ctx) })
}

func (h *Handlers) HandleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	h.act(w, r, func(ctx context.Context) error { return h.Camera.SelectDeviceByID(ctx, req.ID) })
}

func (h *Handlers) HandleNext(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context) error { return h.Camera.SwitchVideoDevices(ctx) })
}

func (h *Handlers) HandleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !decode(w, r, &req) {
		return
	}
	h.act(w, r, func(ctx context.Context) error { return h.Camera.SetCaptureMode(ctx, req.Mode) })
}

func (h *Handlers) HandleSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if !decode(w, r, &req) {
		return
	}
	h.act(w, r, func(ctx context.Context) error {
		if req.QualityPrioritization != nil {
			if err := h.Camera.SetQualityPrioritization(ctx, *req.QualityPrioritization); err != nil {
				return err
			}
		}
		if req.LivePhoto != nil {
			if err := h.Camera.SetLivePhotoEnabled(ctx, *req.LivePhoto); err != nil {
				return err
			}
		}
		if req.HDRVideo != nil {
			return h.Camera.SetHDRVideoEnabled(ctx, *req.HDRVideo)
		}
		return nil
	})
}

func (h *Handlers) HandleFocus(w http.ResponseWriter, r *http.Request) {
	var p camera.Point
	if !decode(w, r, &p) {
		return
	}
	if !p.Valid() {
		http.Error(w, "x and y must be between 0 and 1", http.StatusBadRequest)
		return
	}
	h.act(w, r, func(ctx context.Context) error { return h.Camera.FocusAndExpose(ctx, p) })
}

func (h *Handlers) HandlePhoto(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context) error { return h.Camera.CapturePhoto(ctx) })
}

func (h *Handlers) HandleRecording(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(ctx context.Context) error { return h.Camera.ToggleRecording(ctx) })
}

func (h *Handlers) HandleClearError(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, func(context.Context) error {
		h.Camera.ClearError()
		return nil
	})
}

// act runs op and answers with the resulting snapshot, or the mapped error.
func (h *Handlers) act(w http.ResponseWriter, r *http.Request, op func(context.Context) error) {
	if !h.ready(w) {
		return
	}
	if err := op(r.Context()); err != nil {
		debug.Verbose("Web: %s %s: %v", r.Method, r.URL.Path, err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, h.Camera.Snapshot())
}

func (h *Handlers) ready(w http.ResponseWriter) bool {
	if h.Camera == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrSwitchInProgress),
		errors.Is(err, capture.ErrCaptureInProgress),
		errors.Is(err, capture.ErrNotRunning),
		errors.Is(err, capture.ErrNotRecording),
		errors.Is(err, capture.ErrWrongMode):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnknownDevice), errors.Is(err, session.ErrNoDevicesFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAuthorizationDenied):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
