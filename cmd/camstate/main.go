// Command camstate reads and edits the camera state shared with the camrelay
// daemon. The daemon picks changes up the next time a capture session starts.
//
// Usage:
//
//	camstate [-config configs/default.yaml] get [key]
//	camstate [-config configs/default.yaml] set key=value [key=value...]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cjeanneret/camrelay/internal/config"
	"github.com/cjeanneret/camrelay/internal/debug"
	"github.com/cjeanneret/camrelay/internal/state"
)

var errUsage = errors.New("usage: camstate [flags] get [key] | set key=value...")

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("camstate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cfgPath := fs.String("config", filepath.Join("configs", "default.yaml"), "daemon config file locating the state")
	statePath := fs.String("state", "", "state file (overrides the config)")
	format := fs.String("format", "", "state format json|msgpack (overrides the config)")
	level := fs.Int("debug", 0, "debug level (0-4)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	debug.Init(*level)

	store, err := openStore(*cfgPath, *statePath, *format)
	if err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return errUsage
	}
	switch rest[0] {
	case "get":
		if len(rest) > 2 {
			return errUsage
		}
		st, err := store.Load(ctx)
		if err != nil {
			return err
		}
		if len(rest) == 2 {
			v, err := field(st, rest[1])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, v)
			return err
		}
		return printState(out, st)

	case "set":
		if len(rest) < 2 {
			return errUsage
		}
		st, err := store.Load(ctx)
		if err != nil {
			return err
		}
		for _, kv := range rest[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("%w: %q is not key=value", errUsage, kv)
			}
			if st, err = assign(st, k, v); err != nil {
				return err
			}
		}
		if st.IsVideoHDREnabled && st.CaptureMode != state.ModeVideo {
			return errors.New("isVideoHDREnabled requires captureMode=video")
		}
		if err := store.Save(ctx, st); err != nil {
			return err
		}
		return printState(out, st)

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, rest[0])
	}
}

// openStore locates the state file. Explicit flags win over the config
// file; the config is only read when the path is not given.
func openStore(cfgPath, statePath, format string) (*state.FileStore, error) {
	if statePath == "" || format == "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			if statePath == "" {
				return nil, err
			}
		} else {
			if statePath == "" {
				statePath = cfg.State.Path
			}
			if format == "" {
				format = cfg.State.Format
			}
		}
	}
	codec, err := state.CodecByName(format)
	if err != nil {
		return nil, err
	}
	debug.Value("State file", statePath)
	return state.NewFileStore(statePath, codec), nil
}

func printState(out io.Writer, st state.CameraState) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

func field(st state.CameraState, key string) (string, error) {
	switch key {
	case "captureMode":
		return st.CaptureMode.String(), nil
	case "qualityPrioritization":
		return st.QualityPrioritization.String(), nil
	case "isLivePhotoEnabled":
		return strconv.FormatBool(st.IsLivePhotoEnabled), nil
	case "isVideoHDREnabled":
		return strconv.FormatBool(st.IsVideoHDREnabled), nil
	case "isVideoHDRSupported":
		return strconv.FormatBool(st.IsVideoHDRSupported), nil
	default:
		return "", fmt.Errorf("unknown key %q", key)
	}
}

// assign sets one writable key. isVideoHDRSupported is reported by the
// hardware and cannot be set.
func assign(st state.CameraState, key, value string) (state.CameraState, error) {
	var err error
	switch key {
	case "captureMode":
		st.CaptureMode, err = state.ParseMode(value)
	case "qualityPrioritization":
		st.QualityPrioritization, err = state.ParseQuality(value)
	case "isLivePhotoEnabled":
		st.IsLivePhotoEnabled, err = strconv.ParseBool(value)
	case "isVideoHDREnabled":
		st.IsVideoHDREnabled, err = strconv.ParseBool(value)
	case "isVideoHDRSupported":
		err = errors.New("isVideoHDRSupported is read-only")
	default:
		err = fmt.Errorf("unknown key %q", key)
	}
	if err != nil {
		return st, fmt.Errorf("%s: %w", key, err)
	}
	return st, nil
}
