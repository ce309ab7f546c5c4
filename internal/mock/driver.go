// Package mock provides a scriptable canhw.Driver that records every call
// and implements all optional capabilities.
package mock

import (
	"fmt"
	"sync"
	"time"

	"github.com/roffe/canhw"
)

// Call is one recorded driver entry point.
type Call struct {
	Method string
	Args   []any
}

func (c Call) String() string {
	return fmt.Sprintf("%s%v", c.Method, c.Args)
}

// Driver is an in-memory unit with two channels. Return codes are scripted
// per method name with SetCode; unscripted methods succeed.
type Driver struct {
	name       string
	thresholds canhw.Thresholds

	mu       sync.Mutex
	calls    []Call
	codes    map[string]int
	sinks    map[canhw.Handle]canhw.EventSink
	next     canhw.Handle
	rx       map[canhw.Channel][]canhw.Frame
	written  map[canhw.Channel][]canhw.Frame
	cyclic   map[canhw.Channel]canhw.PeriodicTask
	flags    map[canhw.Channel]canhw.CyclicFlags
	hotplug  canhw.EventSink
	txLimit  int
	hw       canhw.HardwareInfo
	modules  []canhw.ModuleInfo
	statuses map[canhw.Channel]canhw.ChannelStatus
}

func New() *Driver {
	return &Driver{
		name:       "mock",
		thresholds: canhw.DefaultThresholds,
		codes:      make(map[string]int),
		sinks:      make(map[canhw.Handle]canhw.EventSink),
		next:       1,
		rx:         make(map[canhw.Channel][]canhw.Frame),
		written:    make(map[canhw.Channel][]canhw.Frame),
		cyclic:     make(map[canhw.Channel]canhw.PeriodicTask),
		flags:      make(map[canhw.Channel]canhw.CyclicFlags),
		statuses:   make(map[canhw.Channel]canhw.ChannelStatus),
		hw: canhw.HardwareInfo{
			Serial:   1,
			Firmware: canhw.MinCyclicFirmware,
			Channels: canhw.MaxChannels,
		},
	}
}

// SetCode scripts the return code of method for all following calls.
func (d *Driver) SetCode(method string, code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.codes[method] = code
}

// SetHardware replaces what HardwareInfo reports.
func (d *Driver) SetHardware(hi canhw.HardwareInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hw = hi
}

// SetTxLimit makes Write accept at most n frames per call. Zero removes
// the limit.
func (d *Driver) SetTxLimit(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.txLimit = n
}

func (d *Driver) SetStatus(ch canhw.Channel, st canhw.ChannelStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[ch] = st
}

// AddModule adds a unit reported by Enumerate.
func (d *Driver) AddModule(m canhw.ModuleInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.modules = append(d.modules, m)
}

// Calls returns a copy of every call recorded so far.
func (d *Driver) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Count returns how often method was called.
func (d *Driver) Count(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ResetCalls forgets the recorded calls.
func (d *Driver) ResetCalls() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = nil
}

// Queue makes frames available to Read on ch and posts a receive event.
func (d *Driver) Queue(ch canhw.Channel, frames ...canhw.Frame) {
	d.mu.Lock()
	d.rx[ch] = append(d.rx[ch], frames...)
	sinks := d.sinkList()
	d.mu.Unlock()
	for _, s := range sinks {
		s.Post(canhw.Event{Type: canhw.EventMessageReceived, Channel: ch})
	}
}

// Written returns the frames accepted on ch.
func (d *Driver) Written(ch canhw.Channel) []canhw.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]canhw.Frame(nil), d.written[ch]...)
}

// CyclicFlags returns the flags last passed to EnableCyclic on ch.
func (d *Driver) CyclicFlags(ch canhw.Channel) canhw.CyclicFlags {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flags[ch]
}

// Emit posts ev to every open unit, or to the connect control sink for
// connect type events.
func (d *Driver) Emit(ev canhw.Event) {
	d.mu.Lock()
	var sinks []canhw.EventSink
	switch ev.Type {
	case canhw.EventConnect, canhw.EventDisconnect, canhw.EventFatalDisconnect:
		if d.hotplug != nil {
			sinks = []canhw.EventSink{d.hotplug}
		}
	default:
		sinks = d.sinkList()
	}
	d.mu.Unlock()
	for _, s := range sinks {
		s.Post(ev)
	}
}

func (d *Driver) sinkList() []canhw.EventSink {
	out := make([]canhw.EventSink, 0, len(d.sinks))
	for _, s := range d.sinks {
		out = append(out, s)
	}
	return out
}

// record logs the call and returns its scripted code. Callers hold d.mu.
func (d *Driver) record(method string, args ...any) int {
	d.calls = append(d.calls, Call{Method: method, Args: args})
	return d.codes[method]
}

func (d *Driver) failed(code int) bool {
	return canhw.Classify(code, d.thresholds).Failed()
}

func (d *Driver) post(h canhw.Handle, ev canhw.Event) {
	if s := d.sinks[h]; s != nil {
		s.Post(ev)
	}
}

func (d *Driver) Name() string                 { return d.name }
func (d *Driver) Thresholds() canhw.Thresholds { return d.thresholds }

func (d *Driver) InitHardware(sel canhw.Selector, events canhw.EventSink) (canhw.Handle, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	code := d.record("InitHardware", sel)
	if d.failed(code) {
		return 0, code
	}
	if sn, ok := sel.Serial(); ok && sn != d.hw.Serial {
		return 0, 0x05
	}
	h := d.next
	d.next++
	if events == nil {
		events = canhw.Discard
	}
	d.sinks[h] = events
	events.Post(canhw.Event{Type: canhw.EventHardwareReady})
	return h, code
}

func (d *Driver) InitChannel(h canhw.Handle, ch canhw.Channel, cfg canhw.ChannelConfig) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	code := d.record("InitChannel", h, ch, cfg)
	if !d.failed(code) {
		d.post(h, canhw.Event{Type: canhw.EventChannelReady, Channel: ch})
	}
	return code
}

func (d *Driver) Read(h canhw.Handle, ch canhw.Channel, buf []canhw.Frame, timeout time.Duration) (int, canhw.Channel, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code := d.record("Read", h, ch, len(buf), timeout); code != 0 {
		return 0, ch, code
	}
	from := ch
	if ch == canhw.ChannelAny {
		for c := canhw.Channel0; c < canhw.MaxChannels; c++ {
			if len(d.rx[c]) > 0 {
				from = c
				break
			}
		}
	}
	q := d.rx[from]
	if len(q) == 0 {
		return 0, ch, d.thresholds.NoData
	}
	n := copy(buf, q)
	d.rx[from] = q[n:]
	return n, from, 0
}

func (d *Driver) Write(h canhw.Handle, ch canhw.Channel, frames []canhw.Frame) (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	code := d.record("Write", h, ch, len(frames))
	if d.failed(code) {
		return 0, code
	}
	n := len(frames)
	if d.txLimit > 0 && n > d.txLimit {
		n = d.txLimit
	}
	d.written[ch] = append(d.written[ch], frames[:n]...)
	return n, code
}

func (d *Driver) DeinitChannel(h canhw.Handle, ch canhw.Channel) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	code := d.record("DeinitChannel", h, ch)
	if !d.failed(code) {
		delete(d.cyclic, ch)
		d.post(h, canhw.Event{Type: canhw.EventChannelClosed, Channel: ch})
	}
	return code
}

func (d *Driver) DeinitHardware(h canhw.Handle) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	code := d.record("DeinitHardware", h)
	if !d.failed(code) {
		d.post(h, canhw.Event{Type: canhw.EventHardwareClosed})
		delete(d.sinks, h)
	}
	return code
}
