package ucan

import (
	"fmt"
	"sync"
	"time"

	"github.com/roffe/canhw"
	"github.com/rs/zerolog"
	"golang.org/x/mod/semver"
)

func init() {
	if err := canhw.RegisterDriver(&canhw.DriverInfo{
		Name:        Name,
		Description: Description,
		New: func(cfg *canhw.DriverConfig) (canhw.Driver, error) {
			return New(cfg), nil
		},
	}); err != nil {
		panic(err)
	}
}

type unit struct {
	handle uint8
	sink   canhw.EventSink
	hw     hardwareInfoEx
	// rx is signalled by RECEIVE callbacks so Read can wait without
	// polling the library.
	rx chan struct{}
}

// Driver talks to every module of the USBCAN library loaded in this
// process. The library is loaded on first use, so creating a Driver on a
// host without it succeeds and only the first call fails.
type Driver struct {
	cfg  *canhw.DriverConfig
	log  zerolog.Logger
	load func() (api, error)

	mu      sync.Mutex
	lib     api
	units   map[canhw.Handle]*unit
	connect canhw.EventSink
}

func New(cfg *canhw.DriverConfig) *Driver {
	if cfg == nil {
		cfg = &canhw.DriverConfig{}
	}
	return newDriver(cfg, func() (api, error) {
		l, err := loadLibrary(cfg.Library)
		if err != nil {
			return nil, err
		}
		return l, nil
	})
}

func newDriver(cfg *canhw.DriverConfig, load func() (api, error)) *Driver {
	return &Driver{
		cfg:   cfg,
		log:   canhw.Logger().With().Str("driver", Name).Logger(),
		load:  load,
		units: make(map[canhw.Handle]*unit),
	}
}

func (d *Driver) Name() string                 { return Name }
func (d *Driver) Thresholds() canhw.Thresholds { return canhw.DefaultThresholds }

// library returns the bound library, loading it on first use. Callers hold
// d.mu.
func (d *Driver) library() (api, int) {
	if d.lib != nil {
		return d.lib, CodeOK
	}
	lib, err := d.load()
	if err != nil {
		d.log.Error().Err(err).Msg("load library")
		return nil, CodeLibrary
	}
	d.lib = lib
	return lib, CodeOK
}

func (d *Driver) get(h canhw.Handle) (api, *unit, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, ok := d.units[h]
	if !ok || d.lib == nil {
		return nil, nil, CodeIllHandle
	}
	return d.lib, u, CodeOK
}

func (d *Driver) channel(h canhw.Handle, ch canhw.Channel) (api, *unit, int) {
	lib, u, code := d.get(h)
	if code != CodeOK {
		return nil, nil, code
	}
	if !ch.Physical() || int(ch) >= u.hw.channels() {
		return nil, nil, CodeIllChannel
	}
	return lib, u, CodeOK
}

// onEvent runs on a library thread.
func (d *Driver) onEvent(handle uint8, event uint32, channel uint8) {
	d.mu.Lock()
	u := d.units[canhw.Handle(handle)]
	d.mu.Unlock()
	if u == nil {
		// INITHW arrives before InitHardware returns the handle.
		return
	}
	if event == eventReceive {
		select {
		case u.rx <- struct{}{}:
		default:
		}
	}
	ev, ok := translateEvent(event, uint32(channel))
	if !ok {
		d.log.Debug().Uint32("event", event).Msg("unknown callback event")
		return
	}
	if !u.sink.Post(ev) {
		d.log.Warn().Str("event", ev.String()).Msg("event dropped")
	}
}

func (d *Driver) InitHardware(sel canhw.Selector, events canhw.EventSink) (canhw.Handle, int) {
	if events == nil {
		events = canhw.Discard
	}
	d.mu.Lock()
	lib, code := d.library()
	d.mu.Unlock()
	if code != CodeOK {
		return 0, code
	}

	var h, ret uint8
	if sn, ok := sel.Serial(); ok {
		h, ret = lib.InitHardwareSerial(sn, d.onEvent)
	} else {
		n, _ := sel.Index()
		h, ret = lib.InitHardware(uint8(n), d.onEvent)
	}
	if ret != CodeOK {
		return 0, int(ret)
	}
	hw, _, ret := lib.GetHardwareInfo(h)
	if canhw.Classify(int(ret), d.Thresholds()).Failed() {
		lib.DeinitHardware(h)
		return 0, int(ret)
	}
	if err := d.checkFirmware(canhw.FirmwareVersion(hw.FwVersionEx)); err != nil {
		d.log.Error().Err(err).Msg("firmware check")
		lib.DeinitHardware(h)
		return 0, CodeIllVersion
	}

	u := &unit{handle: h, sink: events, hw: hw, rx: make(chan struct{}, 1)}
	d.mu.Lock()
	d.units[canhw.Handle(h)] = u
	d.mu.Unlock()
	events.Post(canhw.Event{Type: canhw.EventHardwareReady})
	d.log.Debug().Uint8("handle", h).Uint32("serial", hw.Serial).Msg("hardware initialized")
	return canhw.Handle(h), CodeOK
}

func (d *Driver) checkFirmware(fw canhw.FirmwareVersion) error {
	want := d.cfg.MinimumFirmwareVersion
	if want == "" || fw == 0 || !semver.IsValid(want) {
		return nil
	}
	if semver.Compare(fw.Semver(), want) < 0 {
		return fmt.Errorf("firmware %s older than %s", fw.Semver(), want)
	}
	return nil
}

func (d *Driver) InitChannel(h canhw.Handle, ch canhw.Channel, cfg canhw.ChannelConfig) int {
	lib, u, code := d.channel(h, ch)
	if code != CodeOK {
		return code
	}
	p := newInitCanParam(cfg)
	if ret := lib.InitCan(u.handle, uint8(ch), p); ret != CodeOK {
		return int(ret)
	}
	if cfg.TxTimeout > 0 {
		if ret := lib.SetTxTimeout(u.handle, uint8(ch), msDuration(cfg.TxTimeout)); canhw.Classify(int(ret), d.Thresholds()).Failed() {
			lib.DeinitCan(u.handle, uint8(ch))
			return int(ret)
		}
	}
	return CodeOK
}

func (d *Driver) Read(h canhw.Handle, ch canhw.Channel, buf []canhw.Frame, timeout time.Duration) (int, canhw.Channel, int) {
	lib, u, code := d.get(h)
	if code != CodeOK {
		return 0, ch, code
	}
	if ch != canhw.ChannelAny && !ch.Physical() {
		return 0, ch, CodeIllChannel
	}
	msgs := make([]canMsg, len(buf))
	n, from, ret := lib.ReadCanMsg(u.handle, uint8(ch), msgs)
	if ret == CodeWarnNoData && timeout > 0 {
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()
		for ret == CodeWarnNoData {
			select {
			case <-u.rx:
			case <-deadline.C:
				return 0, ch, CodeWarnNoData
			}
			n, from, ret = lib.ReadCanMsg(u.handle, uint8(ch), msgs)
		}
	}
	if canhw.Classify(int(ret), d.Thresholds()).Failed() {
		return 0, ch, int(ret)
	}
	for i := range msgs[:n] {
		buf[i] = msgs[i].frame()
	}
	return n, canhw.Channel(from), int(ret)
}

func (d *Driver) Write(h canhw.Handle, ch canhw.Channel, frames []canhw.Frame) (int, int) {
	lib, u, code := d.channel(h, ch)
	if code != CodeOK {
		return 0, code
	}
	msgs := make([]canMsg, len(frames))
	for i, f := range frames {
		msgs[i] = toCanMsg(f)
	}
	n, ret := lib.WriteCanMsg(u.handle, uint8(ch), msgs)
	return n, int(ret)
}

func (d *Driver) DeinitChannel(h canhw.Handle, ch canhw.Channel) int {
	lib, u, code := d.channel(h, ch)
	if code != CodeOK {
		return code
	}
	return int(lib.DeinitCan(u.handle, uint8(ch)))
}

func (d *Driver) DeinitHardware(h canhw.Handle) int {
	lib, u, code := d.get(h)
	if code != CodeOK {
		return code
	}
	ret := lib.DeinitHardware(u.handle)
	if canhw.Classify(int(ret), d.Thresholds()).Failed() {
		return int(ret)
	}
	d.mu.Lock()
	delete(d.units, h)
	d.mu.Unlock()
	return int(ret)
}

func msDuration(t time.Duration) uint32 {
	return uint32((t + time.Millisecond - 1) / time.Millisecond)
}
