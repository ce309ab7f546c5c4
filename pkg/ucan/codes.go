// Package ucan drives SYS TEC USB-CANmodul adapters through the vendor
// library (usbcan64.dll / usbcan32.dll), bound at run time without cgo.
package ucan

import "github.com/roffe/canhw"

const (
	Name        = "ucan"
	Description = "SYS TEC USB-CANmodul via the USBCAN library"
)

// Return codes of the USBCAN library.
const (
	CodeOK            = 0x00
	CodeResource      = 0x01
	CodeMaxModules    = 0x02
	CodeHwInUse       = 0x03
	CodeIllVersion    = 0x04
	CodeIllHw         = 0x05
	CodeIllHandle     = 0x06
	CodeIllParam      = 0x07
	CodeBusy          = 0x08
	CodeTimeout       = 0x09
	CodeIOFailed      = 0x0A
	CodeDLLTxFull     = 0x0B
	CodeMaxInstances  = 0x0C
	CodeCannotInit    = 0x0D
	CodeDisconnect    = 0x0E
	CodeNoHwClass     = 0x0F
	CodeIllChannel    = 0x10
	CodeIllHwType     = 0x12
	CodeServerTimeout = 0x13
	// CodeLibrary is returned when the library or one of its symbols
	// could not be loaded.
	CodeLibrary = 0x3F

	CodeCmdNotEqual     = 0x40
	CodeCmdRegTest      = 0x41
	CodeCmdIllCmd       = 0x42
	CodeCmdEEPROM       = 0x43
	CodeCmdIllBaudrate  = 0x47
	CodeCmdNotInit      = 0x48
	CodeCmdAlreadyInit  = 0x49
	CodeCmdIllSubCmd    = 0x4A
	CodeCmdIllIndex     = 0x4B
	CodeCmdRunning      = 0x4C
	CodeWarnNoData      = 0x80
	CodeWarnSysRxOvr    = 0x81
	CodeWarnDLLRxOvr    = 0x82
	CodeWarnFwTxOverrun = 0x85
	CodeWarnFwRxOverrun = 0x86
	CodeWarnNullPtr     = 0x90
	CodeWarnTxLimit     = 0x91
	CodeWarnBusy        = 0x92
)

// Callback event numbers.
const (
	eventInitHw      = 0
	eventInitCan     = 1
	eventReceive     = 2
	eventStatus      = 3
	eventDeinitCan   = 4
	eventDeinitHw    = 5
	eventConnect     = 6
	eventDisconnect  = 7
	eventFatalDiscon = 8
)

// translateEvent maps a library event to the public descriptor. param is
// the channel for per-handle events and the handle for FATALDISCON.
func translateEvent(event, param uint32) (canhw.Event, bool) {
	ch := canhw.Channel(uint8(param))
	switch event {
	case eventInitHw:
		return canhw.Event{Type: canhw.EventHardwareReady}, true
	case eventInitCan:
		return canhw.Event{Type: canhw.EventChannelReady, Channel: ch}, true
	case eventReceive:
		return canhw.Event{Type: canhw.EventMessageReceived, Channel: ch}, true
	case eventStatus:
		return canhw.Event{Type: canhw.EventStatusChanged, Channel: ch}, true
	case eventDeinitCan:
		return canhw.Event{Type: canhw.EventChannelClosed, Channel: ch}, true
	case eventDeinitHw:
		return canhw.Event{Type: canhw.EventHardwareClosed}, true
	case eventConnect:
		return canhw.Event{Type: canhw.EventConnect}, true
	case eventDisconnect:
		return canhw.Event{Type: canhw.EventDisconnect}, true
	case eventFatalDiscon:
		return canhw.Event{Type: canhw.EventFatalDisconnect, DeviceID: param}, true
	default:
		return canhw.Event{}, false
	}
}
