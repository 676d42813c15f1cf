// Command companion receives relayed frames and serves the most recent one
// over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cjeanneret/camrelay/internal/companion"
	"github.com/cjeanneret/camrelay/internal/debug"
	"github.com/cjeanneret/camrelay/internal/transport"
)

type options struct {
	Addr       string
	Path       string // websocket endpoint
	Broker     string // mqtt mode when set
	Topic      string
	ClientID   string
	MaxPayload int
}

func main() {
	var opts options
	flag.StringVar(&opts.Addr, "addr", ":8081", "HTTP listen address")
	flag.StringVar(&opts.Path, "path", "/relay", "websocket path the camera dials")
	flag.StringVar(&opts.Broker, "mqtt", "", "subscribe to frames on this MQTT broker instead of serving websocket")
	flag.StringVar(&opts.Topic, "topic", "camrelay/frames", "MQTT topic")
	flag.StringVar(&opts.ClientID, "client_id", "", "MQTT client id (random when empty)")
	flag.IntVar(&opts.MaxPayload, "max_payload", transport.DefaultMaxPayload, "largest accepted frame in bytes")
	level := flag.Int("debug", 1, "debug level (0-4)")
	flag.Parse()

	if err := opts.validate(); err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	debug.Init(*level)
	debug.Section("Companion")
	debug.PrintStruct("Options", opts)

	store := companion.NewStore()
	ep, mux := build(opts, store)
	defer ep.Close()

	if err := ep.Activate(ctx); err != nil {
		log.Fatalf("activate: %v", err)
	}
	go logLiveness(ctx, ep)

	if err := serve(ctx, opts.Addr, mux); err != nil {
		log.Fatalf("http: %v", err)
	}
}

func (o options) validate() error {
	if o.Addr == "" {
		return errors.New("addr is required")
	}
	if o.Broker == "" && (o.Path == "" || o.Path[0] != '/') {
		return fmt.Errorf("path must start with /, got %q", o.Path)
	}
	if o.MaxPayload <= 0 {
		return fmt.Errorf("max_payload must be positive, got %d", o.MaxPayload)
	}
	return nil
}

// build creates the receiving endpoint and the HTTP routes serving it.
func build(o options, store *companion.Store) (transport.Endpoint, *http.ServeMux) {
	mux := http.NewServeMux()
	var ep transport.Endpoint
	if o.Broker != "" {
		ep = transport.NewMQTT(transport.MQTTConfig{
			Broker:    o.Broker,
			Topic:     o.Topic,
			ClientID:  o.ClientID,
			Subscribe: true,
		}, o.MaxPayload)
	} else {
		hub := transport.NewHub(o.MaxPayload)
		mux.Handle("GET "+o.Path, hub)
		ep = hub
	}
	ep.OnReceive(store.Receive)
	companion.NewHandler(store, ep).Register(mux)
	return ep, mux
}

func logLiveness(ctx context.Context, ep transport.Endpoint) {
	ch, unsub := ep.Liveness().Subscribe()
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-ch:
			if !ok {
				return
			}
			debug.Info("Companion: relay connected=%t", up)
		}
	}
}

func serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("companion listening on %s", addr)
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
