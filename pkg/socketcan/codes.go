// Package socketcan drives Linux SocketCAN interfaces through raw CAN
// sockets, configures links over rtnetlink and runs cyclic tasks on the
// kernel broadcast manager.
package socketcan

import (
	"github.com/roffe/canhw"
)

// Return codes follow the USB-CAN table so the default thresholds apply.
const (
	CodeOK              = 0x00
	CodeIllegalHandle   = 0x01
	CodeIllegalChannel  = 0x02
	CodeIllegalParam    = 0x03
	CodeBusy            = 0x04
	CodeSocket          = 0x05
	CodeNetlink         = 0x06
	CodeNoHardware      = 0x07
	CodeDeviceIO        = 0x40
	CodeLinkDown        = 0x41
	CodeNoData          = 0x80
	CodeTxLimit         = 0x91
	CodeCyclicUndefined = 0x92
)

const (
	Name        = "socketcan"
	Description = "Linux SocketCAN"
)

// BTR values of the common SJA1000 bit timings at 16 MHz.
var btrBitrates = map[uint16]uint32{
	0x0014: 1000000,
	0x0016: 800000,
	0x001C: 500000,
	0x011C: 250000,
	0x031C: 125000,
	0x432F: 100000,
	0x472F: 50000,
	0x532F: 20000,
	0x672F: 10000,
}

// bitrateOf picks the bit rate for a channel: an explicit rate wins, then
// the extended baud rate register, then the BTR table.
func bitrateOf(bitrate uint32, btr uint16, baudrateEx uint32) (uint32, bool) {
	if bitrate != 0 {
		return bitrate, true
	}
	if baudrateEx != 0 {
		return baudrateEx, true
	}
	br, ok := btrBitrates[btr]
	return br, ok
}

// Filter is one CAN_RAW_FILTER entry: a frame passes when
// id&Mask == ID&Mask.
type Filter struct {
	ID   uint32
	Mask uint32
}

// filtersFor turns an SJA1000 style acceptance mask and code into raw
// socket filters. A mask bit of one means "don't care". The all-pass mask
// yields a single match-everything filter.
func filtersFor(amr, acr uint32) []Filter {
	if amr == canhw.AMRAll {
		return []Filter{{ID: 0, Mask: 0}}
	}
	std := Filter{
		ID:   (acr >> 21) & sffMask,
		Mask: (^amr>>21)&sffMask | effFlag,
	}
	ext := Filter{
		ID:   (acr>>3)&effMask | effFlag,
		Mask: (^amr>>3)&effMask | effFlag,
	}
	return []Filter{std, ext}
}

const (
	effFlag = 0x80000000
	sffMask = 0x000007FF
	effMask = 0x1FFFFFFF
)

// statusOf maps a kernel CAN state to controller status bits.
func statusOf(state uint32) canhw.CANStatus {
	switch state {
	case canStateErrorWarning:
		return canhw.CANStatusBUSLIGHT
	case canStateErrorPassive:
		return canhw.CANStatusBUSHEAVY
	case canStateBusOff:
		return canhw.CANStatusBUSOFF
	default:
		return canhw.CANStatusOK
	}
}

// linux/can/netlink.h enum can_state.
const (
	canStateErrorActive  = 0
	canStateErrorWarning = 1
	canStateErrorPassive = 2
	canStateBusOff       = 3
	canStateStopped      = 4
	canStateSleeping     = 5
)
