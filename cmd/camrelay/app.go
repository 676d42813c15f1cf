package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/cjeanneret/camrelay/internal/companion"
	"github.com/cjeanneret/camrelay/internal/config"
	"github.com/cjeanneret/camrelay/internal/debug"
	"github.com/cjeanneret/camrelay/internal/hw/camera"
	"github.com/cjeanneret/camrelay/internal/hw/device"
	"github.com/cjeanneret/camrelay/internal/hw/gpio"
	"github.com/cjeanneret/camrelay/internal/hw/indicator"
	"github.com/cjeanneret/camrelay/internal/logic/capture"
	"github.com/cjeanneret/camrelay/internal/logic/relay"
	"github.com/cjeanneret/camrelay/internal/logic/session"
	"github.com/cjeanneret/camrelay/internal/portal"
	"github.com/cjeanneret/camrelay/internal/state"
	"github.com/cjeanneret/camrelay/internal/transport"
	"github.com/cjeanneret/camrelay/internal/web"
)

// app is the wired daemon: hardware, capture session, orchestrator and the
// relay to the companion.
type app struct {
	cfg *config.Config

	gpio     gpio.Driver
	lamps    *indicator.Lamps
	session  *capture.Session
	machine  *session.Machine
	pipeline *relay.Pipeline

	endpoint transport.Endpoint
	hub      *transport.Hub // websocket listen mode only

	// loopback mode runs the companion in-process
	peer      transport.Endpoint
	companion *companion.Store
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	debug.Step(1, "Initializing GPIO driver")
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return nil, fmt.Errorf("init GPIO: %w", err)
	}
	a.gpio = g
	a.lamps = indicator.NewLamps(g, cfg.Indicator.FlashPin, cfg.Indicator.RecordPin, cfg.FlashPulse())
	debug.PrintStruct("Indicator config", cfg.Indicator)

	debug.Step(2, "Loading camera state")
	cell, err := newStateCell(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	debug.Step(3, "Initializing capture backend")
	hw, err := newHardware(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	catalog := newCatalog(cfg)
	a.session = capture.NewSession(hw, newAuthorizer(cfg), catalog)
	debug.Value("Capture backend", cfg.Capture.Backend)
	debug.Value("Device source", cfg.Devices.Source)
	debug.Value("Authorization", cfg.Defaults.Authorization)

	debug.Step(4, "Initializing relay transport")
	if err := a.newTransport(); err != nil {
		a.close()
		return nil, err
	}
	debug.Value("Transport", cfg.Transport.Type)

	a.pipeline = relay.NewPipeline(relay.Config{
		Interval: cfg.RelayInterval(),
		Target:   relay.Size{Width: cfg.Relay.TargetWidth, Height: cfg.Relay.TargetHeight},
		Quality:  cfg.Relay.Quality,
	}, a.endpoint)
	a.session.SetFrameHandler(a.pipeline.HandleFrame)
	debug.PrintStruct("Relay config", cfg.Relay)

	debug.Step(5, "Creating camera orchestrator")
	a.machine = session.New(session.Config{
		Session:   a.session,
		Catalog:   catalog,
		State:     cell,
		Library:   session.NewDirLibrary(cfg.Media.Dir),
		Indicator: a.lamps,
		Link:      a.endpoint,
	})
	debug.Value("Media dir", cfg.Media.Dir)
	return a, nil
}

func newStateCell(ctx context.Context, cfg *config.Config) (*state.Cell, error) {
	codec, err := state.CodecByName(cfg.State.Format)
	if err != nil {
		return nil, err
	}
	cell := state.NewCell(state.NewFileStore(cfg.State.Path, codec))
	st, err := cell.Sync(ctx)
	if err != nil {
		// Corrupt record: run on defaults, the next change rewrites it.
		debug.Warn("State: %v; using defaults", err)
	}
	debug.Value("State file", cfg.State.Path)
	debug.PrintStruct("Camera state", st)
	return cell, nil
}

func newHardware(cfg *config.Config) (camera.Hardware, error) {
	switch cfg.Capture.Backend {
	case "simulator":
		return camera.NewSimulator(camera.SimulatorConfig{
			Width:        cfg.Capture.Width,
			Height:       cfg.Capture.Height,
			FrameRate:    cfg.Capture.FrameRate,
			HDRSupported: cfg.Capture.HDRSupported,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported capture backend: %s", cfg.Capture.Backend)
	}
}

func newCatalog(cfg *config.Config) device.Catalog {
	if cfg.Devices.Source == "static" {
		return device.NewStatic(cfg.StaticDevices()...)
	}
	return device.NewSysfs(cfg.Devices.SysfsRoot)
}

func newAuthorizer(cfg *config.Config) capture.Authorizer {
	switch cfg.Defaults.Authorization {
	case "allow":
		return portal.Static(true)
	case "deny":
		return portal.Static(false)
	default:
		return portal.NewCamera()
	}
}

func (a *app) newTransport() error {
	t := a.cfg.Transport
	limit := a.cfg.Relay.MaxPayloadBytes
	switch t.Type {
	case "websocket":
		if t.Listen != "" {
			a.hub = transport.NewHub(limit)
			a.endpoint = a.hub
			return nil
		}
		a.endpoint = transport.NewDialer(t.URL, limit)
	case "mqtt":
		a.endpoint = transport.NewMQTT(transport.MQTTConfig{
			Broker:   t.Broker,
			Topic:    t.Topic,
			ClientID: t.ClientID,
		}, limit)
	case "loopback":
		local, peer := transport.NewLoopbackPair(limit)
		a.endpoint = local
		a.peer = peer
		a.companion = companion.NewStore()
		peer.OnReceive(a.companion.Receive)
	default:
		return fmt.Errorf("unsupported transport type: %s", t.Type)
	}
	return nil
}

// mount adds the relay endpoints to the control server.
func (a *app) mount(srv *web.Server) {
	srv.Mount("GET /relay/stats", http.HandlerFunc(a.handleRelayStats))
	if a.hub != nil {
		srv.Mount("GET "+a.cfg.Transport.Listen, a.hub)
	}
	if a.companion != nil {
		mux := http.NewServeMux()
		companion.NewHandler(a.companion, a.peer).Register(mux)
		srv.Mount("/companion/", http.StripPrefix("/companion", mux))
	}
}

type relayStats struct {
	Ready     bool            `json:"ready"`
	Pipeline  relay.Stats     `json:"pipeline"`
	Transport transport.Stats `json:"transport"`
}

func (a *app) stats() relayStats {
	s := relayStats{
		Ready:    a.endpoint.IsReady(),
		Pipeline: a.pipeline.Stats(),
	}
	if c, ok := a.endpoint.(interface{ Stats() transport.Stats }); ok {
		s.Transport = c.Stats()
	}
	return s
}

func (a *app) handleRelayStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a.stats())
}

// start activates the relay and kicks off discovery. A discovery that finds
// nothing is reported on the snapshot, not returned.
func (a *app) start(ctx context.Context) error {
	if a.peer != nil {
		if err := a.peer.Activate(ctx); err != nil {
			return fmt.Errorf("activate companion: %w", err)
		}
	}
	if err := a.endpoint.Activate(ctx); err != nil {
		return fmt.Errorf("activate transport: %w", err)
	}
	a.pipeline.Start(ctx)

	debug.Section("Discovering cameras")
	if err := a.machine.DiscoverDevices(ctx); err != nil {
		switch {
		case errors.Is(err, session.ErrNoDevicesFound):
			debug.Warn("No camera found; use POST /devices/discover to retry")
		default:
			debug.Error(fmt.Errorf("discovery: %w", err))
		}
	}
	return nil
}

func (a *app) close() {
	if a.machine != nil {
		a.machine.Close()
	}
	if a.pipeline != nil {
		a.pipeline.Stop()
	}
	if a.endpoint != nil {
		a.endpoint.Close()
	}
	if a.peer != nil {
		a.peer.Close()
	}
	if a.lamps != nil {
		a.lamps.Close()
	}
	if a.gpio != nil {
		if err := a.gpio.Close(); err != nil {
			debug.Warn("closing GPIO driver failed: %v", err)
		}
	}
}
