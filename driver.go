package canhw

import (
	"fmt"
	"time"
)

// Handle is the opaque token a driver returns from InitHardware.
type Handle uint32

// AnyModule selects the first free unit when addressing by index.
const AnyModule = 255

// Selector addresses one unit either by device number or by serial number.
type Selector struct {
	index    int
	serial   uint32
	bySerial bool
}

func ByIndex(n int) Selector { return Selector{index: n} }

func BySerial(sn uint32) Selector { return Selector{serial: sn, bySerial: true} }

// Index returns the device number and false when the selector addresses a
// serial number.
func (s Selector) Index() (int, bool) { return s.index, !s.bySerial }

// Serial returns the serial number and false when the selector addresses a
// device number.
func (s Selector) Serial() (uint32, bool) { return s.serial, s.bySerial }

func (s Selector) String() string {
	if s.bySerial {
		return fmt.Sprintf("serial %d", s.serial)
	}
	if s.index == AnyModule {
		return "any module"
	}
	return fmt.Sprintf("device %d", s.index)
}

// Driver is the narrow contract every backend implements. Each entry point
// returns the backend's raw return code; Thresholds tells the Device how to
// classify it. Drivers never track lifecycle state themselves.
//
// Events for a unit are posted to the sink handed to InitHardware for as
// long as the unit is open.
type Driver interface {
	Name() string
	Thresholds() Thresholds
	InitHardware(sel Selector, events EventSink) (Handle, int)
	InitChannel(h Handle, ch Channel, cfg ChannelConfig) int
	// Read fills buf and reports which channel the frames came from. It
	// blocks up to timeout; zero means the backend default.
	Read(h Handle, ch Channel, buf []Frame, timeout time.Duration) (n int, from Channel, code int)
	Write(h Handle, ch Channel, frames []Frame) (n int, code int)
	DeinitChannel(h Handle, ch Channel) int
	DeinitHardware(h Handle) int
}

// Optional capabilities. Device operations that need one return
// ErrNotSupported when the driver does not implement it.

type StatusReader interface {
	Status(h Handle, ch Channel) (ChannelStatus, int)
	MessageCounts(h Handle, ch Channel) (sent, received uint16, code int)
}

type ErrorCounterReader interface {
	ErrorCounters(h Handle, ch Channel) (tx, rx uint32, code int)
}

type Resetter interface {
	ResetChannel(h Handle, ch Channel, flags ResetFlags) int
}

type BaudrateSetter interface {
	SetBaudrate(h Handle, ch Channel, btr uint16, baudrateEx uint32) int
}

type AcceptanceSetter interface {
	SetAcceptance(h Handle, ch Channel, amr, acr uint32) int
}

type HardwareInfoReader interface {
	HardwareInfo(h Handle) (HardwareInfo, int)
}

type TxTimeoutSetter interface {
	SetTxTimeout(h Handle, ch Channel, timeout time.Duration) int
}

type PendingCounter interface {
	Pending(h Handle, ch Channel, flags PendingFlags) (uint32, int)
}

// CyclicScheduler transmits a task's frames autonomously. A task with no
// frames deletes the current definition.
type CyclicScheduler interface {
	DefineCyclic(h Handle, ch Channel, task PeriodicTask) int
	ReadCyclic(h Handle, ch Channel) ([]Frame, int)
	EnableCyclic(h Handle, ch Channel, flags CyclicFlags) int
}

// Enumerator scans attached hardware, calling collect once per unit.
type Enumerator interface {
	Enumerate(filter EnumFilter, collect func(ModuleInfo)) int
}

// Hotplugger delivers process wide connect, disconnect and fatal
// disconnect events. The driver owns the registration: at most one sink
// is registered at a time.
type Hotplugger interface {
	InitConnectControl(events EventSink) int
	DeinitConnectControl() int
	ConnectControlActive() bool
}
