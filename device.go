package canhw

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the hardware level lifecycle state of a Device.
type State int

const (
	Unopened State = iota
	HardwareReady
	ShuttingDown
	Closed
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case HardwareReady:
		return "hardware ready"
	case ShuttingDown:
		return "shutting down"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Device gates every driver call behind the hardware/channel lifecycle:
// hardware before channels, channels before I/O, channels closed before
// hardware. Violations are reported before the driver is touched.
//
// Transitions take the write lock; I/O and queries hold the read lock for
// the duration of the driver call, so a close waits for in-flight reads to
// hit their timeout.
type Device struct {
	drv        Driver
	thresholds Thresholds
	sink       EventSink
	log        zerolog.Logger
	readBuffer int

	mu       sync.RWMutex
	state    State
	handle   Handle
	channels [MaxChannels]bool

	taskMu sync.Mutex
	tasks  [MaxChannels]*PeriodicTask
}

func NewDevice(drv Driver, opts ...Option) *Device {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	l := Logger()
	if cfg.logger != nil {
		l = *cfg.logger
	}
	t := drv.Thresholds()
	if cfg.thresholds != nil {
		t = *cfg.thresholds
	}
	return &Device{
		drv:        drv,
		thresholds: t,
		sink:       cfg.sink,
		log:        l.With().Str("driver", drv.Name()).Logger(),
		readBuffer: cfg.readBuffer,
	}
}

func (d *Device) Driver() Driver { return d.drv }

func (d *Device) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Device) ChannelReady(ch Channel) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state == HardwareReady && ch.Physical() && d.channels[ch]
}

// MatchesHandle reports whether deviceID, as passed with a fatal
// disconnect, names this device's open handle.
func (d *Device) MatchesHandle(deviceID uint32) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state == HardwareReady && uint32(d.handle) == deviceID
}

func (d *Device) check(code int, fn string, args ...any) (StatusCode, error) {
	return checkCode(d.log, d.thresholds, code, fn, args...)
}

func (d *Device) requireHardware() error {
	switch d.state {
	case Closed:
		return ErrClosed
	case HardwareReady:
		return nil
	default:
		return fmt.Errorf("%w: hardware is %s", ErrNotInitialized, d.state)
	}
}

func (d *Device) requireChannel(ch Channel, allowAny bool) error {
	if err := d.requireHardware(); err != nil {
		return err
	}
	if ch == ChannelAny && allowAny {
		for _, ready := range d.channels {
			if ready {
				return nil
			}
		}
		return fmt.Errorf("%w: no channel ready", ErrNotInitialized)
	}
	if !ch.Physical() {
		return fmt.Errorf("%w: %s", ErrInvalidChannel, ch)
	}
	if !d.channels[ch] {
		return fmt.Errorf("%w: %s", ErrNotInitialized, ch)
	}
	return nil
}

// OpenHardware initializes the unit addressed by sel. It is a no-op when
// the hardware is already open.
func (d *Device) OpenHardware(sel Selector) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case Closed:
		return ErrClosed
	case HardwareReady:
		return nil
	}
	h, code := d.drv.InitHardware(sel, d.sink)
	if _, err := d.check(code, "InitHardware", sel); err != nil {
		return err
	}
	d.handle = h
	d.state = HardwareReady
	d.log.Debug().Str("selector", sel.String()).Uint32("handle", uint32(h)).Msg("hardware ready")
	return nil
}

// OpenChannel initializes ch with cfg. It is a no-op when the channel is
// already ready.
func (d *Device) OpenChannel(ch Channel, cfg ChannelConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireHardware(); err != nil {
		return err
	}
	if !ch.Physical() {
		return fmt.Errorf("%w: %s", ErrInvalidChannel, ch)
	}
	if d.channels[ch] {
		return nil
	}
	if _, err := d.check(d.drv.InitChannel(d.handle, ch, cfg), "InitChannel", ch, cfg); err != nil {
		return err
	}
	d.channels[ch] = true
	d.log.Debug().Str("channel", ch.String()).Msg("channel ready")
	return nil
}

// CloseChannel deinitializes ch, or every ready channel for ChannelAll.
// Channels that are not ready are skipped.
func (d *Device) CloseChannel(ch Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == Closed {
		return ErrClosed
	}
	if d.state != HardwareReady {
		return nil
	}
	if ch == ChannelAll {
		return d.closeChannelsLocked()
	}
	if !ch.Physical() {
		return fmt.Errorf("%w: %s", ErrInvalidChannel, ch)
	}
	if !d.channels[ch] {
		return nil
	}
	return d.closeChannelLocked(ch)
}

func (d *Device) closeChannelsLocked() error {
	for i, ready := range d.channels {
		if !ready {
			continue
		}
		if err := d.closeChannelLocked(Channel(i)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) closeChannelLocked(ch Channel) error {
	if _, err := d.check(d.drv.DeinitChannel(d.handle, ch), "DeinitChannel", ch); err != nil {
		return err
	}
	d.channels[ch] = false
	d.forgetTask(ch)
	d.log.Debug().Str("channel", ch.String()).Msg("channel closed")
	return nil
}

func (d *Device) openChannels() []Channel {
	var out []Channel
	for i, ready := range d.channels {
		if ready {
			out = append(out, Channel(i))
		}
	}
	return out
}

// CloseHardware deinitializes the unit. With cascade every ready channel is
// closed first; without it the call fails with ErrChannelsStillOpen while
// any channel is ready. A failed driver call leaves the device open.
func (d *Device) CloseHardware(cascade bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.state {
	case Closed:
		return ErrClosed
	case Unopened:
		d.state = Closed
		return nil
	}
	if open := d.openChannels(); len(open) > 0 && !cascade {
		return fmt.Errorf("%w: %v", ErrChannelsStillOpen, open)
	}
	d.state = ShuttingDown
	if err := d.closeChannelsLocked(); err != nil {
		d.state = HardwareReady
		return err
	}
	if _, err := d.check(d.drv.DeinitHardware(d.handle), "DeinitHardware", d.handle); err != nil {
		d.state = HardwareReady
		return err
	}
	d.log.Debug().Uint32("handle", uint32(d.handle)).Msg("hardware closed")
	d.handle = 0
	d.state = Closed
	return nil
}

// Read returns up to count frames from ch, or from whichever channel has data
// when ch is ChannelAny, together with the channel they came from. An empty
// result with a nil error means nothing was available before timeout.
func (d *Device) Read(ch Channel, count int, timeout time.Duration) ([]Frame, Channel, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.requireChannel(ch, true); err != nil {
		return nil, ch, err
	}
	if count <= 0 {
		count = d.readBuffer
	}
	buf := make([]Frame, count)
	n, from, code := d.drv.Read(d.handle, ch, buf, timeout)
	sc, err := d.check(code, "Read", ch, count, timeout)
	if err != nil {
		return nil, from, err
	}
	if sc.NoData || n <= 0 {
		return nil, from, nil
	}
	return buf[:min(n, count)], from, nil
}

// Write queues frames on ch and returns how many the driver accepted. Fewer
// than len(frames) with a nil error means the driver hit its transmit limit.
func (d *Device) Write(ch Channel, frames ...Frame) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.requireChannel(ch, false); err != nil {
		return 0, err
	}
	for i, f := range frames {
		if err := f.Validate(); err != nil {
			return 0, fmt.Errorf("frame %d: %w", i, err)
		}
	}
	if len(frames) == 0 {
		return 0, nil
	}
	n, code := d.drv.Write(d.handle, ch, frames)
	if _, err := d.check(code, "Write", ch, len(frames)); err != nil {
		return n, err
	}
	return n, nil
}

// withChannel runs fn with the read lock held once ch is ready.
func (d *Device) withChannel(ch Channel, fn func(h Handle) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.requireChannel(ch, false); err != nil {
		return err
	}
	return fn(d.handle)
}

// withHardware runs fn with the read lock held once the hardware is open.
func (d *Device) withHardware(fn func(h Handle) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if err := d.requireHardware(); err != nil {
		return err
	}
	return fn(d.handle)
}

func (d *Device) unsupported(op string) error {
	return fmt.Errorf("%s: %s: %w", d.drv.Name(), op, ErrNotSupported)
}
