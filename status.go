package canhw

import (
	"fmt"
	"strings"
)

// Severity is the tier a raw driver return code falls into.
type Severity int

const (
	Success Severity = iota
	Warning
	DeviceFault
	DriverFault
)

func (s Severity) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case Warning:
		return "WARNING"
	case DeviceFault:
		return "DEVICE_ERROR"
	case DriverFault:
		return "DRIVER_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Thresholds are the boundary constants of a backend's return code table.
// Codes in [ErrCmd, Warning) are raised by the firmware, codes at or above
// Warning are warnings.
type Thresholds struct {
	Success int
	ErrCmd  int
	Warning int
	NoData  int
}

// DefaultThresholds matches the layout shared by the USB-CAN family of
// drivers: 0x00 success, 0x01-0x3F driver, 0x40-0x7F firmware, 0x80+ warnings.
var DefaultThresholds = Thresholds{
	Success: 0x00,
	ErrCmd:  0x40,
	Warning: 0x80,
	NoData:  0x80,
}

// StatusCode is an immutable classification of a raw return code.
type StatusCode struct {
	Raw      int
	Severity Severity
	// NoData marks the distinguished "nothing to read" warning.
	NoData bool
}

// Classify maps a raw return code to its severity tier. The rules are
// evaluated in order and the first match wins.
func Classify(code int, t Thresholds) StatusCode {
	sc := StatusCode{Raw: code}
	switch {
	case code == t.Success:
		sc.Severity = Success
	case code >= t.Warning:
		sc.Severity = Warning
		sc.NoData = code == t.NoData
	case code >= t.ErrCmd:
		sc.Severity = DeviceFault
	default:
		sc.Severity = DriverFault
	}
	return sc
}

func (s StatusCode) OK() bool       { return s.Severity == Success }
func (s StatusCode) Failed() bool   { return s.Severity == DeviceFault || s.Severity == DriverFault }
func (s StatusCode) Loggable() bool { return s.Severity == Warning && !s.NoData }

func (s StatusCode) String() string {
	return fmt.Sprintf("%s(0x%02X)", s.Severity, s.Raw)
}

// CANStatus is the controller status bitmask reported by GetStatus.
type CANStatus uint16

const (
	CANStatusOK        CANStatus = 0x0000
	CANStatusXMTFULL   CANStatus = 0x0001
	CANStatusOVERRUN   CANStatus = 0x0002
	CANStatusBUSLIGHT  CANStatus = 0x0004
	CANStatusBUSHEAVY  CANStatus = 0x0008
	CANStatusBUSOFF    CANStatus = 0x0010
	CANStatusQRCVEMPTY CANStatus = 0x0020
	CANStatusQOVERRUN  CANStatus = 0x0040
	CANStatusQXMTFULL  CANStatus = 0x0080
	CANStatusREGTEST   CANStatus = 0x0100
	CANStatusMEMTEST   CANStatus = 0x0200
	CANStatusTXMSGLOST CANStatus = 0x8000
)

var canStatusNames = []struct {
	bit  CANStatus
	text string
}{
	{CANStatusTXMSGLOST, "Transmit message lost"},
	{CANStatusMEMTEST, "Memory test failed"},
	{CANStatusREGTEST, "Register test failed"},
	{CANStatusQXMTFULL, "Transmit queue is full"},
	{CANStatusQOVERRUN, "Receive queue overrun"},
	{CANStatusQRCVEMPTY, "Receive queue is empty"},
	{CANStatusBUSOFF, "Bus Off"},
	{CANStatusBUSHEAVY, "Error Passive"},
	{CANStatusBUSLIGHT, "Warning Limit"},
	{CANStatusOVERRUN, "Rx-buffer is full"},
	{CANStatusXMTFULL, "Tx-buffer is full"},
}

// Messages lists the set bits by description, most severe first.
func (s CANStatus) Messages() []string {
	if s == CANStatusOK {
		return []string{"OK"}
	}
	var out []string
	for _, n := range canStatusNames {
		if s&n.bit != 0 {
			out = append(out, n.text)
		}
	}
	return out
}

func (s CANStatus) String() string {
	return strings.Join(s.Messages(), ", ")
}

// ChannelStatus pairs the controller status with the transport (USB)
// status word. Drivers without a transport word leave USB zero.
type ChannelStatus struct {
	CAN CANStatus
	USB uint16
}

func (s ChannelStatus) String() string {
	return fmt.Sprintf("can: %s, usb: 0x%04X", s.CAN, s.USB)
}

// Messages lists the CAN status bits set on the channel.
func (s ChannelStatus) Messages() []string { return s.CAN.Messages() }
