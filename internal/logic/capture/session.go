package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/camrelay/internal/debug"
	"github.com/cjeanneret/camrelay/internal/hw/camera"
	"github.com/cjeanneret/camrelay/internal/hw/device"
	"github.com/cjeanneret/camrelay/internal/observe"
	"github.com/cjeanneret/camrelay/internal/state"
)

// movieTick is how often the recording duration is republished.
const movieTick = 500 * time.Millisecond

// Session owns the hardware capture pipeline.
//
// Lock order: hwMu before mu. hwMu serializes every call into the hardware;
// deviceSwitch and modeSwitch are single-slot guards that reject a second
// switch of the same kind while one is in flight.
type Session struct {
	hw      camera.Hardware
	auth    Authorizer
	catalog device.Catalog

	hwMu         sync.Mutex
	deviceSwitch sync.Mutex
	modeSwitch   sync.Mutex

	mu         sync.Mutex
	opened     bool // written with both hwMu and mu held
	device     device.Device
	mode       state.Mode
	hdr        bool
	life       context.Context
	lifeCancel context.CancelFunc
	recCancel  context.CancelFunc

	state        *observe.Value[State]
	activity     *observe.Value[Activity]
	caps         *observe.Value[camera.Capabilities]
	interruption *observe.Value[camera.Interruption]

	onFrame atomic.Pointer[func(camera.Frame)]
	wg      sync.WaitGroup
}

// NewSession creates an idle session. auth may be nil (always authorized);
// catalog is used to pick the default device and the next device.
func NewSession(hw camera.Hardware, auth Authorizer, catalog device.Catalog) *Session {
	return &Session{
		hw:           hw,
		auth:         auth,
		catalog:      catalog,
		state:        observe.NewValue(StateIdle),
		activity:     observe.NewValue(Activity{}),
		caps:         observe.NewValue(camera.Capabilities{}),
		interruption: observe.NewValue(camera.InterruptionNone),
	}
}

// States publishes every state transition.
func (s *Session) States() *observe.Value[State] { return s.state }

// Activity publishes capture activity, including willCapture pulses.
func (s *Session) Activity() *observe.Value[Activity] { return s.activity }

// Capabilities publishes what the bound device supports.
func (s *Session) Capabilities() *observe.Value[camera.Capabilities] { return s.caps }

// Interruptions publishes hardware interruptions.
func (s *Session) Interruptions() *observe.Value[camera.Interruption] { return s.interruption }

// State returns the current state.
func (s *Session) State() State { return s.state.Get() }

// Device returns the bound device (zero before start).
func (s *Session) Device() device.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Active reports whether hardware is bound, including while a switch is
// in flight or after a failed switch left the previous device in place.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// HDRVideoEnabled reports whether HDR video is applied to the hardware.
func (s *Session) HDRVideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hdr
}

// Mode returns the configured capture mode.
func (s *Session) Mode() state.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetFrameHandler installs the raw frame consumer. It is called on the
// hardware's frame-delivery goroutine and must return quickly.
func (s *Session) SetFrameHandler(fn func(camera.Frame)) {
	if fn == nil {
		s.onFrame.Store(nil)
		return
	}
	s.onFrame.Store(&fn)
}

func (s *Session) deliver(f camera.Frame) {
	if h := s.onFrame.Load(); h != nil {
		(*h)(f)
	}
}

func (s *Session) interrupted(kind camera.Interruption) {
	debug.Info("Capture: hardware reports %s", kind)
	s.interruption.Set(kind)
}

// setState must be called with mu held.
func (s *Session) setState(to State) {
	from := s.state.Get()
	if from == to {
		return
	}
	debug.Status("Capture", from, to)
	s.state.Set(to)
}

func (s *Session) isRunning() bool {
	return s.state.Get() == StateRunning
}

// opContext derives a context that is also cancelled by Stop.
func (s *Session) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	s.mu.Lock()
	life := s.life
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	if life == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// CheckAuthorization asks the authorizer. It must complete before any start.
func (s *Session) CheckAuthorization(ctx context.Context) bool {
	if s.auth == nil {
		return true
	}
	s.mu.Lock()
	prev := s.state.Get()
	s.setState(StateAuthorizing)
	s.mu.Unlock()

	granted := s.auth.Authorized(ctx)

	s.mu.Lock()
	if s.state.Get() == StateAuthorizing {
		s.setState(prev)
	}
	s.mu.Unlock()
	debug.Live("Capture: authorization granted=%v", granted)
	return granted
}

// Start binds the default device: the first back-facing camera, else the
// first device found.
func (s *Session) Start(ctx context.Context, st state.CameraState) error {
	var devs []device.Device
	if s.catalog != nil {
		devs = s.catalog.Discover(ctx)
	}
	if len(devs) == 0 {
		s.mu.Lock()
		s.setState(StateError)
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrHardwareStart, ErrNoDevices)
	}
	dev := devs[0]
	for _, d := range devs {
		if d.Category == device.CategoryInternalBack {
			dev = d
			break
		}
	}
	return s.StartWith(ctx, dev, st)
}

// StartWith binds dev and starts frame delivery using the persisted
// settings. There is no retry; callers re-invoke after a failure.
func (s *Session) StartWith(ctx context.Context, dev device.Device, st state.CameraState) error {
	s.mu.Lock()
	cur := s.state.Get()
	if cur == StateStarting {
		s.mu.Unlock()
		return ErrSwitchInProgress
	}
	if s.opened && cur != StateStopped {
		same := s.device.ID == dev.ID && cur == StateRunning
		s.mu.Unlock()
		if same {
			return nil
		}
		return s.SelectDevice(ctx, dev)
	}
	if s.life == nil || s.life.Err() != nil {
		s.life, s.lifeCancel = context.WithCancel(context.Background())
	}
	s.setState(StateStarting)
	s.mu.Unlock()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	s.hwMu.Lock()
	defer s.hwMu.Unlock()

	debug.Live("Capture: starting with %s", dev)
	caps, err := s.hw.Open(opCtx, dev, st, camera.Callbacks{
		OnFrame:        s.deliver,
		OnInterruption: s.interrupted,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Get() == StateStopped {
		if err == nil {
			_ = s.hw.Close()
		}
		return ErrStopped
	}
	if err != nil {
		s.setState(StateError)
		return fmt.Errorf("%w: %s: %w", ErrHardwareStart, dev.Name, err)
	}
	s.opened = true
	s.device = dev
	s.mode = st.CaptureMode
	s.hdr = st.CaptureMode == state.ModeVideo && st.IsVideoHDREnabled && caps.HDRVideoSupported
	s.caps.Set(caps)
	s.interruption.Set(camera.InterruptionNone)
	s.setState(StateRunning)
	return nil
}

// switchable reports whether a reconfiguration may begin. A session left
// in StateError by a failed switch still has its previous device bound and
// can be switched again.
func (s *Session) switchable() bool {
	st := s.state.Get()
	return st == StateRunning || (st == StateError && s.opened)
}

// SelectDevice hot-swaps the input. A second device switch while one is in
// flight is rejected with ErrSwitchInProgress.
func (s *Session) SelectDevice(ctx context.Context, dev device.Device) error {
	if !s.deviceSwitch.TryLock() {
		return ErrSwitchInProgress
	}
	defer s.deviceSwitch.Unlock()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	s.hwMu.Lock()
	defer s.hwMu.Unlock()

	s.mu.Lock()
	if !s.switchable() {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if s.device.ID == dev.ID {
		s.mu.Unlock()
		return nil
	}
	s.setState(StateSwitchingDevice)
	s.mu.Unlock()

	debug.Live("Capture: switching device to %s", dev)
	caps, err := s.hw.SwitchDevice(opCtx, dev)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Get() == StateStopped {
		return ErrStopped
	}
	if err != nil {
		s.setState(StateError)
		return fmt.Errorf("%w: %s: %w", ErrDeviceSwitch, dev.Name, err)
	}
	s.device = dev
	s.caps.Set(caps)
	s.setState(StateRunning)
	return nil
}

// SelectNextVideoDevice cycles to the device after the current one in
// discovery order. With fewer than two devices it does nothing.
func (s *Session) SelectNextVideoDevice(ctx context.Context) error {
	if s.catalog == nil {
		return nil
	}
	devs := s.catalog.Discover(ctx)
	if len(devs) < 2 {
		debug.Verbose("Capture: %d device(s), nothing to switch to", len(devs))
		return nil
	}
	cur := s.Device()
	next := devs[(device.Index(devs, cur.ID)+1)%len(devs)]
	return s.SelectDevice(ctx, next)
}

// SetCaptureMode reconfigures the pipeline for photo or video capture. A
// second mode switch while one is in flight is rejected.
func (s *Session) SetCaptureMode(ctx context.Context, mode state.Mode) error {
	if !s.modeSwitch.TryLock() {
		return ErrSwitchInProgress
	}
	defer s.modeSwitch.Unlock()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	s.hwMu.Lock()
	defer s.hwMu.Unlock()

	s.mu.Lock()
	if !s.switchable() {
		s.mu.Unlock()
		return ErrNotRunning
	}
	if s.mode == mode && s.state.Get() == StateRunning {
		s.mu.Unlock()
		return nil
	}
	s.setState(StateSwitchingMode)
	s.mu.Unlock()

	debug.Live("Capture: switching mode to %s", mode)
	caps, err := s.hw.SetMode(opCtx, mode)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Get() == StateStopped {
		return ErrStopped
	}
	if err != nil {
		s.setState(StateError)
		return fmt.Errorf("%w: %s: %w", ErrModeSwitch, mode, err)
	}
	s.mode = mode
	if mode != state.ModeVideo {
		s.hdr = false
	}
	s.caps.Set(caps)
	s.setState(StateRunning)
	return nil
}

// SetHDRVideoEnabled toggles HDR video. It reports false, without error,
// when the request is ignored: not running, not in video mode, or enabling
// on hardware without HDR support.
func (s *Session) SetHDRVideoEnabled(ctx context.Context, enabled bool) (bool, error) {
	s.hwMu.Lock()
	defer s.hwMu.Unlock()

	s.mu.Lock()
	if !s.isRunning() || s.mode != state.ModeVideo || (enabled && !s.caps.Get().HDRVideoSupported) {
		s.mu.Unlock()
		debug.Verbose("Capture: HDR toggle ignored")
		return false, nil
	}
	s.mu.Unlock()

	if err := s.hw.SetHDRVideo(ctx, enabled); err != nil {
		return false, fmt.Errorf("set HDR video: %w", err)
	}
	s.mu.Lock()
	s.hdr = enabled
	s.mu.Unlock()
	return true, nil
}

// FocusAndExpose meters at p. Ignored unless running.
func (s *Session) FocusAndExpose(ctx context.Context, p camera.Point) error {
	if !p.Valid() {
		return fmt.Errorf("focus point %+v outside frame", p)
	}
	s.hwMu.Lock()
	defer s.hwMu.Unlock()
	if !s.isRunning() {
		return nil
	}
	return s.hw.FocusAndExpose(ctx, p)
}

// beginCapture moves activity from idle to kind, emitting the willCapture
// pulse first. Called with mu held.
func (s *Session) beginCapture(kind ActivityKind) error {
	if !s.isRunning() {
		return ErrNotRunning
	}
	if s.activity.Get().Kind != ActivityIdle {
		return ErrCaptureInProgress
	}
	s.activity.Set(Activity{WillCapture: true})
	s.activity.Set(Activity{Kind: kind})
	return nil
}

// CapturePhoto takes a still: idle -> photoCapture -> idle.
func (s *Session) CapturePhoto(ctx context.Context, f camera.PhotoFeatures) (camera.Photo, error) {
	s.mu.Lock()
	if err := s.beginCapture(ActivityPhotoCapture); err != nil {
		s.mu.Unlock()
		return camera.Photo{}, err
	}
	s.mu.Unlock()
	defer s.activity.Set(Activity{})

	s.hwMu.Lock()
	defer s.hwMu.Unlock()
	debug.Live("Capture: taking photo (live=%v, quality=%s)", f.LivePhotoEnabled, f.QualityPrioritization)
	p, err := s.hw.CapturePhoto(ctx, f)
	if err != nil {
		return camera.Photo{}, fmt.Errorf("capture photo: %w", err)
	}
	return p, nil
}

// StartRecording begins a movie: idle -> movieCapture(duration). Only
// available in video mode.
func (s *Session) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning() && s.mode != state.ModeVideo {
		s.mu.Unlock()
		return ErrWrongMode
	}
	if err := s.beginCapture(ActivityMovieCapture); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.hwMu.Lock()
	err := s.hw.StartRecording(ctx)
	s.hwMu.Unlock()
	if err != nil {
		s.activity.Set(Activity{})
		return fmt.Errorf("start recording: %w", err)
	}

	s.mu.Lock()
	recCtx, cancel := context.WithCancel(s.life)
	s.recCancel = cancel
	s.mu.Unlock()

	started := time.Now()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(movieTick)
		defer ticker.Stop()
		for {
			select {
			case <-recCtx.Done():
				return
			case <-ticker.C:
				s.activity.Update(func(a Activity) Activity {
					if a.Kind == ActivityMovieCapture {
						a.Duration = time.Since(started)
					}
					return a
				})
			}
		}
	}()
	debug.Live("Capture: recording started")
	return nil
}

// StopRecording ends the movie and returns it: movieCapture -> idle.
func (s *Session) StopRecording(ctx context.Context) (camera.Movie, error) {
	s.mu.Lock()
	if s.activity.Get().Kind != ActivityMovieCapture {
		s.mu.Unlock()
		return camera.Movie{}, ErrNotRecording
	}
	if s.recCancel != nil {
		s.recCancel()
		s.recCancel = nil
	}
	s.mu.Unlock()
	defer s.activity.Set(Activity{})

	s.hwMu.Lock()
	defer s.hwMu.Unlock()
	m, err := s.hw.StopRecording(ctx)
	if err != nil {
		return camera.Movie{}, fmt.Errorf("stop recording: %w", err)
	}
	debug.Live("Capture: recording stopped (%s, %d frames)", m.Duration.Truncate(time.Millisecond), m.Frames)
	return m, nil
}

// Stop cancels in-flight work, releases the hardware and moves to
// StateStopped. It is safe to call from any state and more than once.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.lifeCancel != nil {
		s.lifeCancel()
	}
	if s.recCancel != nil {
		s.recCancel()
		s.recCancel = nil
	}
	s.setState(StateStopped)
	s.mu.Unlock()

	s.hwMu.Lock()
	s.mu.Lock()
	wasOpen := s.opened
	s.opened = false
	s.mu.Unlock()
	if wasOpen {
		if err := s.hw.Close(); err != nil {
			debug.Warn("Capture: closing hardware: %v", err)
		}
	}
	s.hwMu.Unlock()

	s.wg.Wait()
	if s.activity.Get().Kind != ActivityIdle {
		s.activity.Set(Activity{})
	}
}
