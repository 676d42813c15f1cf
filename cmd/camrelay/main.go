package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/camrelay/internal/config"
	"github.com/cjeanneret/camrelay/internal/debug"
	"github.com/cjeanneret/camrelay/internal/web"
)

// overrides are CLI values that replace config settings. Zero means "use
// config".
type overrides struct {
	DebugLevel      int // -1 means unset
	RelayIntervalMs int
	RelayQuality    float64
}

func main() {
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "serve the control page on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	debugLevel := flag.Int("debug", -1, "override debug level (0-4)")
	relayInterval := flag.Int("relay_interval_ms", 0, "override minimum time between relayed frames in ms")
	relayQuality := flag.Float64("relay_quality", 0, "override relay JPEG quality (0-1]")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	ov := overrides{DebugLevel: *debugLevel, RelayIntervalMs: *relayInterval, RelayQuality: *relayQuality}
	if err := validateCLIOverrides(ov); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, ov)
	if port := webPort.port(); port > 0 {
		cfg.Web.Addr = fmt.Sprintf(":%d", port)
	}

	debug.Init(cfg.Defaults.DebugLevel)
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("init failed: %v", err)
	}
	defer a.close()

	srv := web.NewServer(cfg.Web.Addr, broadcaster, a.machine)
	a.mount(srv)

	if err := a.start(ctx); err != nil {
		log.Fatalf("start failed: %v", err)
	}
	debug.Value("Web address", cfg.Web.Addr)
	if err := srv.Run(ctx); err != nil {
		log.Printf("web server: %v", err)
	}
	debug.Section("Shutting down")
}

// validateCLIOverrides checks that set overrides are within valid ranges.
func validateCLIOverrides(ov overrides) error {
	if ov.DebugLevel < -1 || ov.DebugLevel > 4 {
		return fmt.Errorf("debug must be between 0 and 4, got %d", ov.DebugLevel)
	}
	if ov.RelayIntervalMs < 0 || ov.RelayIntervalMs > 3_600_000 {
		return fmt.Errorf("relay_interval_ms must be between 1 and 3600000, got %d", ov.RelayIntervalMs)
	}
	q := ov.RelayQuality
	if q != 0 {
		if math.IsNaN(q) || math.IsInf(q, 0) || q <= 0 || q > 1 {
			return fmt.Errorf("relay_quality must be in (0, 1], got %g", q)
		}
	}
	return nil
}

// applyOverrides mutates cfg with the set overrides.
func applyOverrides(cfg *config.Config, ov overrides) {
	if ov.DebugLevel >= 0 {
		cfg.Defaults.DebugLevel = ov.DebugLevel
	}
	if ov.RelayIntervalMs > 0 {
		cfg.Relay.IntervalMs = ov.RelayIntervalMs
	}
	if ov.RelayQuality > 0 {
		cfg.Relay.Quality = ov.RelayQuality
	}
}

// webPortFlag implements flag.Value for -web: 0 = use web.addr from config,
// -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
