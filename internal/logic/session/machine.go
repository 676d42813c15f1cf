package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/camrelay/internal/debug"
	"github.com/cjeanneret/camrelay/internal/hw/camera"
	"github.com/cjeanneret/camrelay/internal/hw/device"
	"github.com/cjeanneret/camrelay/internal/logic/capture"
	"github.com/cjeanneret/camrelay/internal/observe"
	"github.com/cjeanneret/camrelay/internal/state"
)

// Indicator mirrors capture feedback on physical lamps.
type Indicator interface {
	Flash()
	SetRecording(on bool)
}

// Link reports relay connectivity.
type Link interface {
	Liveness() *observe.Value[bool]
}

// Config wires the machine to its collaborators. Session, Catalog and State
// are required.
type Config struct {
	Session   *capture.Session
	Catalog   device.Catalog
	State     *state.Cell
	Library   MediaLibrary
	Indicator Indicator
	Link      Link
}

// Machine owns the user-facing camera state. Every exported method may be
// called from any goroutine.
type Machine struct {
	session   *capture.Session
	catalog   device.Catalog
	state     *state.Cell
	library   MediaLibrary
	indicator Indicator

	mu   sync.Mutex // serializes snapshot read-modify-write
	snap *observe.Value[Snapshot]

	discovering sync.Mutex
	starting    sync.Mutex
	pending     atomic.Bool // optimistic start in flight
	devSwitch   sync.Mutex
	modeSwitch  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup
	watch  sync.WaitGroup
	once   sync.Once
}

// New creates a machine in StatusUnknown and starts observing the capture
// session.
func New(cfg Config) *Machine {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Machine{
		session:   cfg.Session,
		catalog:   cfg.Catalog,
		state:     cfg.State,
		library:   cfg.Library,
		indicator: cfg.Indicator,
		ctx:       ctx,
		cancel:    cancel,
	}
	initial := Snapshot{Devices: []device.Device{}}
	applyState(&initial, cfg.State.Get())
	m.snap = observe.NewValue(initial)

	watch(m, m.session.Activity(), false, m.onActivity)
	watch(m, m.session.Capabilities(), true, m.onCapabilities)
	watch(m, m.session.Interruptions(), true, m.onInterruption)
	if cfg.Link != nil {
		watch(m, cfg.Link.Liveness(), false, func(up bool) {
			m.update(func(s *Snapshot) { s.RelayConnected = up })
		})
	}
	return m
}

func watch[T any](m *Machine, v *observe.Value[T], skipInitial bool, fn func(T)) {
	ch, unsub := v.Subscribe()
	if skipInitial {
		<-ch
	}
	m.watch.Add(1)
	go func() {
		defer m.watch.Done()
		defer unsub()
		for {
			select {
			case <-m.ctx.Done():
				return
			case x, ok := <-ch:
				if !ok {
					return
				}
				fn(x)
			}
		}
	}()
}

// Updates publishes every snapshot change.
func (m *Machine) Updates() *observe.Value[Snapshot] { return m.snap }

// Snapshot returns the current snapshot.
func (m *Machine) Snapshot() Snapshot { return m.snap.Get() }

func (m *Machine) update(fn func(*Snapshot)) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.snap.Get()
	before := s.Status
	fn(&s)
	if s.Status != before {
		debug.Status("Camera", before, s.Status)
	}
	m.snap.Set(s)
	return s
}

func (m *Machine) setStatus(st Status) {
	m.update(func(s *Snapshot) { s.Status = st })
}

// persist applies fn to the shared CameraState and mirrors the result into
// the snapshot.
func (m *Machine) persist(ctx context.Context, fn func(state.CameraState) state.CameraState) error {
	st, err := m.state.Update(ctx, fn)
	m.update(func(s *Snapshot) { applyState(s, st) })
	return err
}

// syncState reloads the shared CameraState.
func (m *Machine) syncState(ctx context.Context) state.CameraState {
	st, err := m.state.Sync(ctx)
	if err != nil {
		debug.Warn("Camera: loading camera state: %v", err)
	}
	m.update(func(s *Snapshot) { applyState(s, st) })
	return st
}

// Start authorizes, loads the persisted state and starts the session on the
// default device. Failures are terminal until the caller retries.
func (m *Machine) Start(ctx context.Context) error {
	return m.start(ctx, nil)
}

// StartWith is Start pinned to dev.
func (m *Machine) StartWith(ctx context.Context, dev device.Device) error {
	return m.start(ctx, &dev)
}

func (m *Machine) start(ctx context.Context, dev *device.Device) error {
	if !m.session.CheckAuthorization(ctx) {
		m.setStatus(StatusUnauthorized)
		return ErrAuthorizationDenied
	}
	st := m.syncState(ctx)

	var err error
	if dev == nil {
		err = m.session.Start(ctx, st)
	} else {
		err = m.session.StartWith(ctx, *dev, st)
	}
	if err != nil {
		debug.Error(fmt.Errorf("failed to start capture: %w", err))
		m.setStatus(StatusFailed)
		return err
	}
	bound := m.session.Device()
	m.update(func(s *Snapshot) {
		s.Status = StatusRunning
		s.SelectedDevice = &bound
	})
	m.reconcile(ctx, st)
	return nil
}

// reconcile applies settings recorded while the session was opening with
// opened.
func (m *Machine) reconcile(ctx context.Context, opened state.CameraState) {
	cur := m.state.Get()
	if cur.CaptureMode != opened.CaptureMode {
		debug.Live("Camera: applying mode %s chosen during start", cur.CaptureMode)
		if err := m.session.SetCaptureMode(ctx, cur.CaptureMode); err != nil {
			debug.Warn("Camera: mode switch after start: %v", err)
			return
		}
	}
	if cur.CaptureMode == state.ModeVideo && cur.IsVideoHDREnabled != m.session.HDRVideoEnabled() {
		if _, err := m.session.SetHDRVideoEnabled(ctx, cur.IsVideoHDREnabled); err != nil {
			debug.Warn("Camera: HDR toggle after start: %v", err)
		}
	}
}

// startAsync runs StartWith in the background. The caller holds m.starting;
// it is released when the start settles.
func (m *Machine) startAsync(dev device.Device) {
	m.tasks.Add(1)
	go func() {
		defer m.tasks.Done()
		defer m.starting.Unlock()
		defer m.pending.Store(false)
		_ = m.StartWith(m.ctx, dev)
	}()
}

// Wait blocks until background starts have settled.
func (m *Machine) Wait() { m.tasks.Wait() }

// DiscoverDevices enumerates cameras. With none the status becomes failed;
// with exactly one it is selected and started; with several the selection
// prompt is shown. While running, or while a selected device is still
// starting, discovery only refreshes the list.
func (m *Machine) DiscoverDevices(ctx context.Context) error {
	if !m.discovering.TryLock() {
		return nil
	}
	defer m.discovering.Unlock()

	m.update(func(s *Snapshot) { s.IsDiscovering = true })
	found := m.catalog.Discover(ctx)
	if found == nil {
		found = []device.Device{}
	}
	debug.Info("Camera: discovered %d device(s)", len(found))

	running := m.session.Active() || m.pending.Load()
	snap := m.update(func(s *Snapshot) {
		s.IsDiscovering = false
		s.Devices = found
		switch {
		case running:
		case len(found) == 0:
			s.Status = StatusFailed
			s.SelectedDevice = nil
			s.ShowDeviceSelectionModal = false
		case len(found) > 1:
			s.ShowDeviceSelectionModal = true
			if s.Status == StatusFailed || s.Status == StatusUnauthorized {
				s.Status = StatusUnknown
			}
		}
	})

	switch {
	case running:
		return nil
	case len(found) == 0:
		return ErrNoDevicesFound
	case len(found) == 1 && snap.Status != StatusRunning:
		return m.SelectDevice(ctx, found[0])
	}
	return nil
}

// SelectDevice picks dev. Before the session runs this clears the
// selection prompt, reports running optimistically and starts the session
// in the background; a failed start flips the status to failed. While
// running it hot-swaps the input.
func (m *Machine) SelectDevice(ctx context.Context, dev device.Device) error {
	if m.session.Active() {
		return m.switchDevice(ctx, func(ctx context.Context) error {
			return m.session.SelectDevice(ctx, dev)
		})
	}

	if !m.starting.TryLock() {
		return capture.ErrSwitchInProgress
	}
	m.pending.Store(true)
	m.update(func(s *Snapshot) {
		s.SelectedDevice = &dev
		s.ShowDeviceSelectionModal = false
		s.Status = StatusRunning
	})
	m.startAsync(dev)
	return nil
}

// SelectDeviceByID selects a device from the last discovery.
func (m *Machine) SelectDeviceByID(ctx context.Context, id string) error {
	devs := m.Snapshot().Devices
	i := device.Index(devs, id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return m.SelectDevice(ctx, devs[i])
}

// SwitchVideoDevices moves to the next device in discovery order.
func (m *Machine) SwitchVideoDevices(ctx context.Context) error {
	return m.switchDevice(ctx, m.session.SelectNextVideoDevice)
}

// switchDevice runs a device switch with the in-flight guard held. A
// second switch while one is in flight is rejected.
func (m *Machine) switchDevice(ctx context.Context, op func(context.Context) error) error {
	if !m.devSwitch.TryLock() {
		return capture.ErrSwitchInProgress
	}
	defer m.devSwitch.Unlock()

	m.update(func(s *Snapshot) { s.IsSwitchingVideoDevices = true })
	defer m.update(func(s *Snapshot) { s.IsSwitchingVideoDevices = false })

	err := op(ctx)
	bound := m.session.Device()
	m.update(func(s *Snapshot) {
		if !bound.IsZero() {
			s.SelectedDevice = &bound
		}
	})
	if err != nil {
		debug.Warn("Camera: device switch: %v", err)
	}
	return err
}

// SetCaptureMode records mode and, when running, reconfigures the session.
// If the reconfiguration fails the previous mode is restored.
func (m *Machine) SetCaptureMode(ctx context.Context, mode state.Mode) error {
	if !m.modeSwitch.TryLock() {
		return capture.ErrSwitchInProgress
	}
	defer m.modeSwitch.Unlock()

	prev := m.state.Get().CaptureMode
	if err := m.persist(ctx, func(st state.CameraState) state.CameraState {
		st.CaptureMode = mode
		return st
	}); err != nil {
		debug.Warn("Camera: persisting capture mode: %v", err)
	}
	if m.Snapshot().Status != StatusRunning {
		return nil
	}

	m.update(func(s *Snapshot) { s.IsSwitchingModes = true })
	defer m.update(func(s *Snapshot) { s.IsSwitchingModes = false })

	err := m.session.SetCaptureMode(ctx, mode)
	switch {
	case err == nil, errors.Is(err, capture.ErrNotRunning):
		return nil
	default:
		debug.Warn("Camera: mode switch: %v", err)
		_ = m.persist(ctx, func(st state.CameraState) state.CameraState {
			st.CaptureMode = prev
			return st
		})
		return err
	}
}

// SetHDRVideoEnabled toggles HDR video. In photo mode the request is
// ignored. While running it is forwarded and only recorded when applied;
// otherwise it is recorded for the next start.
func (m *Machine) SetHDRVideoEnabled(ctx context.Context, enabled bool) error {
	if m.state.Get().CaptureMode != state.ModeVideo {
		debug.Verbose("Camera: HDR toggle ignored outside video mode")
		return nil
	}
	if m.Snapshot().Status == StatusRunning && m.session.State() == capture.StateRunning {
		applied, err := m.session.SetHDRVideoEnabled(ctx, enabled)
		if err != nil || !applied {
			return err
		}
	}
	return m.persist(ctx, func(st state.CameraState) state.CameraState {
		st.IsVideoHDREnabled = enabled
		return st
	})
}

// SetLivePhotoEnabled records the preference; it applies per photo.
func (m *Machine) SetLivePhotoEnabled(ctx context.Context, enabled bool) error {
	return m.persist(ctx, func(st state.CameraState) state.CameraState {
		st.IsLivePhotoEnabled = enabled
		return st
	})
}

// SetQualityPrioritization records the preference; it applies per photo.
func (m *Machine) SetQualityPrioritization(ctx context.Context, q state.QualityPrioritization) error {
	return m.persist(ctx, func(st state.CameraState) state.CameraState {
		st.QualityPrioritization = q
		return st
	})
}

func (m *Machine) FocusAndExpose(ctx context.Context, p camera.Point) error {
	return m.session.FocusAndExpose(ctx, p)
}

// CapturePhoto takes a photo and saves it. Failures are also published as
// the snapshot error.
func (m *Machine) CapturePhoto(ctx context.Context) error {
	st := m.state.Get()
	p, err := m.session.CapturePhoto(ctx, camera.PhotoFeatures{
		LivePhotoEnabled:      st.IsLivePhotoEnabled,
		QualityPrioritization: st.QualityPrioritization,
	})
	if err != nil {
		return m.fail(err)
	}
	return m.save(func() (string, error) { return m.library.SavePhoto(ctx, p) })
}

// ToggleRecording stops and saves an ongoing recording, or starts one.
func (m *Machine) ToggleRecording(ctx context.Context) error {
	if m.session.Activity().Get().Kind == capture.ActivityMovieCapture {
		mv, err := m.session.StopRecording(ctx)
		if err != nil {
			return m.fail(err)
		}
		return m.save(func() (string, error) { return m.library.SaveMovie(ctx, mv) })
	}
	return m.session.StartRecording(ctx)
}

func (m *Machine) save(fn func() (string, error)) error {
	if m.library == nil {
		return nil
	}
	path, err := fn()
	if err != nil {
		return m.fail(fmt.Errorf("%w: %w", ErrCaptureWrite, err))
	}
	m.update(func(s *Snapshot) { s.LastCapture = path })
	return nil
}

func (m *Machine) fail(err error) error {
	debug.Error(err)
	m.update(func(s *Snapshot) { s.Error = err.Error() })
	return err
}

// ClearError dismisses the capture error.
func (m *Machine) ClearError() {
	m.update(func(s *Snapshot) { s.Error = "" })
}

func (m *Machine) onActivity(a capture.Activity) {
	if a.WillCapture {
		if m.indicator != nil {
			m.indicator.Flash()
		}
		m.update(func(s *Snapshot) { s.ShouldFlashScreen = true })
		m.update(func(s *Snapshot) { s.ShouldFlashScreen = false })
		return
	}
	if m.indicator != nil {
		m.indicator.SetRecording(a.Kind == capture.ActivityMovieCapture)
	}
	m.update(func(s *Snapshot) { s.CaptureActivity = a })
}

func (m *Machine) onCapabilities(c camera.Capabilities) {
	if err := m.persist(m.ctx, func(st state.CameraState) state.CameraState {
		st.IsVideoHDRSupported = c.HDRVideoSupported
		return st
	}); err != nil {
		debug.Warn("Camera: persisting capabilities: %v", err)
	}
}

func (m *Machine) onInterruption(i camera.Interruption) {
	m.update(func(s *Snapshot) {
		switch s.Status {
		case StatusRunning, StatusInterrupted, StatusDisconnected:
		default:
			return
		}
		switch i {
		case camera.InterruptionInterrupted:
			s.Status = StatusInterrupted
		case camera.InterruptionDisconnected:
			s.Status = StatusDisconnected
		default:
			s.Status = StatusRunning
		}
	})
}

// Close stops the session and every background task. Safe to call more
// than once.
func (m *Machine) Close() {
	m.once.Do(func() {
		m.session.Stop()
		m.cancel()
		m.tasks.Wait()
		m.watch.Wait()
	})
}
