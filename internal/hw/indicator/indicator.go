package indicator

import (
	"sync"
	"time"

	"github.com/cjeanneret/camrelay/internal/debug"
	"github.com/cjeanneret/camrelay/internal/hw/gpio"
)

// Lamps drives two indicator LEDs wired to GPIO:
// - FLASH: pulsed briefly when a capture is about to start
// - RECORD: lit while a movie is being recorded
//
// Both lines are active HIGH. A pin number of 0 disables that lamp.
type Lamps struct {
	gpio       gpio.Driver
	flashPin   int
	recordPin  int
	flashPulse time.Duration

	mu        sync.Mutex
	recording bool
	wg        sync.WaitGroup
}

// NewLamps configures the pins as outputs and turns both lamps off.
func NewLamps(g gpio.Driver, flashPin, recordPin int, flashPulse time.Duration) *Lamps {
	if flashPulse <= 0 {
		flashPulse = 100 * time.Millisecond
	}
	for _, pin := range []int{flashPin, recordPin} {
		if pin > 0 {
			_ = g.SetupPin(pin, gpio.Output)
			_ = g.WritePin(pin, gpio.Low)
		}
	}
	return &Lamps{
		gpio:       g,
		flashPin:   flashPin,
		recordPin:  recordPin,
		flashPulse: flashPulse,
	}
}

// Flash pulses the flash lamp without blocking the caller.
func (l *Lamps) Flash() {
	if l.flashPin <= 0 {
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		debug.Trace("Indicator: flash pulse on pin %d (%v)", l.flashPin, l.flashPulse)
		if err := l.gpio.WritePin(l.flashPin, gpio.High); err != nil {
			debug.Warn("Indicator: flash on failed: %v", err)
			return
		}
		time.Sleep(l.flashPulse)
		if err := l.gpio.WritePin(l.flashPin, gpio.Low); err != nil {
			debug.Warn("Indicator: flash off failed: %v", err)
		}
	}()
}

// SetRecording lights or clears the record lamp. Repeated calls with the
// same value do not touch the pin.
func (l *Lamps) SetRecording(on bool) {
	if l.recordPin <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recording == on {
		return
	}
	l.recording = on
	debug.Live("Indicator: record lamp %v", on)
	if err := l.gpio.WritePin(l.recordPin, gpio.Level(on)); err != nil {
		debug.Warn("Indicator: record lamp failed: %v", err)
	}
}

// Close waits for pending flash pulses and turns both lamps off.
func (l *Lamps) Close() {
	l.wg.Wait()
	l.SetRecording(false)
	if l.flashPin > 0 {
		_ = l.gpio.WritePin(l.flashPin, gpio.Low)
	}
}
