package companion

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Liveness reports whether the relay session is up.
type Liveness interface {
	IsReady() bool
}

// Handler serves the latest frame and the relay status.
type Handler struct {
	store *Store
	link  Liveness
}

// NewHandler creates the companion HTTP handlers. link may be nil.
func NewHandler(store *Store, link Liveness) *Handler {
	return &Handler{store: store, link: link}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /frame", h.handleFrame)
	mux.HandleFunc("GET /status", h.handleStatus)
}

func (h *Handler) handleFrame(w http.ResponseWriter, r *http.Request) {
	f, ok := h.store.Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	etag := `"` + strconv.FormatUint(f.Seq, 10) + `"`
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.Header().Set("Last-Modified", f.ReceivedAt.UTC().Format(http.TimeFormat))
	w.Write(f.Data)
}

type statusResponse struct {
	Connected  bool       `json:"connected"`
	HasFrame   bool       `json:"has_frame"`
	Seq        uint64     `json:"seq"`
	Width      int        `json:"width,omitempty"`
	Height     int        `json:"height,omitempty"`
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	Rejected   uint64     `json:"rejected"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	f, ok := h.store.Latest()
	resp := statusResponse{
		Connected: h.link != nil && h.link.IsReady(),
		HasFrame:  ok,
		Seq:       f.Seq,
		Width:     f.Width,
		Height:    f.Height,
		Rejected:  h.store.Rejected(),
	}
	if ok {
		resp.ReceivedAt = &f.ReceivedAt
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
