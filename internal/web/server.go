package web

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/cjeanneret/camrelay/internal/debug"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	extra    map[string]http.Handler
}

// NewServer creates a server for the given address. cam may be nil, in
// which case only the status stream and static files are useful.
func NewServer(addr string, broadcaster *StatusBroadcaster, cam Controller) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}
	return &Server{
		addr:     addr,
		handlers: NewHandlers(broadcaster, cam, subFS),
		extra:    make(map[string]http.Handler),
	}
}

// Mount adds h under pattern, e.g. the relay websocket endpoint. Call before
// Run.
func (s *Server) Mount(pattern string, h http.Handler) {
	s.extra[pattern] = h
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	h := s.handlers

	mux.HandleFunc("GET /state", h.HandleState)
	mux.HandleFunc("GET /status/stream", h.HandleStatusStream)
	mux.HandleFunc("POST /devices/discover", h.HandleDiscover)
	mux.HandleFunc("POST /devices/select", h.HandleSelect)
	mux.HandleFunc("POST /devices/next", h.HandleNext)
	mux.HandleFunc("POST /mode", h.HandleMode)
	mux.HandleFunc("POST /settings", h.HandleSettings)
	mux.HandleFunc("POST /focus", h.HandleFocus)
	mux.HandleFunc("POST /photo", h.HandlePhoto)
	mux.HandleFunc("POST /recording/toggle", h.HandleRecording)
	mux.HandleFunc("POST /error/clear", h.HandleClearError)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	mux.HandleFunc("GET /{$}", h.ServeIndex) // exact match for root only

	for pattern, eh := range s.extra {
		mux.Handle(pattern, eh)
	}
	return mux
}

// forwardSnapshots mirrors every camera snapshot onto the status stream
// until ctx ends.
func (s *Server) forwardSnapshots(ctx context.Context) {
	cam := s.handlers.Camera
	if cam == nil {
		return
	}
	ch, unsub := cam.Updates().Subscribe()
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := s.handlers.Broadcaster.BroadcastState(snap); err != nil {
				debug.Warn("Web: encoding snapshot: %v", err)
			}
		}
	}
}

// Run starts the server and blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fwdCtx, stop := context.WithCancel(ctx)
	defer stop()
	go s.forwardSnapshots(fwdCtx)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
