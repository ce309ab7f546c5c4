package canhw

import (
	"fmt"
	"time"
)

// Channel identifies a physical CAN port within a device.
type Channel uint8

const (
	Channel0 Channel = 0
	Channel1 Channel = 1
	// ChannelAll addresses every channel; only valid for shutdown.
	ChannelAll Channel = 254
	// ChannelAny is a read selector, never valid for writes.
	ChannelAny Channel = 255
)

// MaxChannels is the number of physical channels a device can expose.
const MaxChannels = 2

func (c Channel) String() string {
	switch c {
	case ChannelAll:
		return "all"
	case ChannelAny:
		return "any"
	default:
		return fmt.Sprintf("ch%d", uint8(c))
	}
}

// Physical reports whether c names a concrete port.
func (c Channel) Physical() bool {
	return c < MaxChannels
}

// Mode is the transmission mode bitset of a channel.
type Mode uint8

const (
	ModeNormal       Mode = 0x00
	ModeListenOnly   Mode = 0x01
	ModeTxEcho       Mode = 0x02
	ModeRxOrderCh    Mode = 0x04
	ModeHighResTimer Mode = 0x08
)

const (
	AMRAll = 0xFFFFFFFF
	ACRAll = 0x00000000

	OCRDefault           = 0x1A
	BTR1MBit             = 0x0014
	DefaultBufferEntries = 4096
)

// ChannelConfig is passed through to the driver unmodified; the driver
// decides which fields it understands and validates them.
type ChannelConfig struct {
	Mode Mode
	// BTR holds BTR0 in the high byte and BTR1 in the low byte.
	BTR        uint16
	OCR        uint8
	AMR        uint32
	ACR        uint32
	BaudrateEx uint32
	// Bitrate in bit/s for links whose timing is computed by the kernel
	// or the adapter firmware.
	Bitrate         uint32
	RxBufferEntries uint16
	TxBufferEntries uint16
	TxTimeout       time.Duration
}

func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		Mode:            ModeNormal,
		BTR:             BTR1MBit,
		OCR:             OCRDefault,
		AMR:             AMRAll,
		ACR:             ACRAll,
		Bitrate:         1000000,
		RxBufferEntries: DefaultBufferEntries,
		TxBufferEntries: DefaultBufferEntries,
	}
}

// CalculateAMR returns the acceptance mask for the identifier range
// from..to.
func CalculateAMR(extended bool, from, to uint32, rtrOnly, rtrToo bool) uint32 {
	if extended {
		low := uint32(0x3)
		if rtrToo && !rtrOnly {
			low = 0x7
		}
		return ((from ^ to) << 3) | low
	}
	low := uint32(0xFFFFF)
	if rtrToo && !rtrOnly {
		low = 0x1FFFFF
	}
	return ((from ^ to) << 21) | low
}

// CalculateACR returns the acceptance code for the identifier range
// from..to.
func CalculateACR(extended bool, from, to uint32, rtrOnly, rtrToo bool) uint32 {
	if extended {
		var rtr uint32
		if rtrOnly {
			rtr = 0x04
		}
		return ((from & to) << 3) | rtr
	}
	var rtr uint32
	if rtrOnly {
		rtr = 0x100000
	}
	return ((from & to) << 21) | rtr
}

type ResetFlags uint32

const (
	ResetAll            ResetFlags = 0x00000000
	ResetNoStatus       ResetFlags = 0x00000001
	ResetNoCANCtrl      ResetFlags = 0x00000002
	ResetNoTxCounter    ResetFlags = 0x00000004
	ResetNoRxCounter    ResetFlags = 0x00000008
	ResetNoTxBufferCh   ResetFlags = 0x00000010
	ResetNoTxBufferDLL  ResetFlags = 0x00000020
	ResetNoTxBufferFW   ResetFlags = 0x00000080
	ResetNoRxBufferCh   ResetFlags = 0x00000100
	ResetNoRxBufferDLL  ResetFlags = 0x00000200
	ResetNoRxBufferSys  ResetFlags = 0x00000400
	ResetNoRxBufferFW   ResetFlags = 0x00000800
	ResetFirmware       ResetFlags = 0xFFFFFFFF
	ResetOnlyStatus     ResetFlags = 0x0000FFFE
	ResetOnlyCANCtrl    ResetFlags = 0x0000FFFD
	ResetOnlyRxBuffers  ResetFlags = ResetNoStatus | ResetNoCANCtrl | ResetNoTxCounter | ResetNoRxCounter | ResetNoTxBufferCh | ResetNoTxBufferDLL | ResetNoTxBufferFW
	ResetOnlyTxBuffers  ResetFlags = ResetNoStatus | ResetNoCANCtrl | ResetNoTxCounter | ResetNoRxCounter | ResetNoRxBufferCh | ResetNoRxBufferDLL | ResetNoRxBufferSys | ResetNoRxBufferFW
	ResetOnlyAllBuffers ResetFlags = ResetOnlyRxBuffers & ResetOnlyTxBuffers
)

type PendingFlags uint32

const (
	PendingRxDLL PendingFlags = 0x01
	PendingRxSys PendingFlags = 0x02
	PendingRxFW  PendingFlags = 0x04
	PendingTxDLL PendingFlags = 0x10
	PendingTxSys PendingFlags = 0x20
	PendingTxFW  PendingFlags = 0x40
	PendingRxAll              = PendingRxDLL | PendingRxSys | PendingRxFW
	PendingTxAll              = PendingTxDLL | PendingTxSys | PendingTxFW
	PendingAll                = PendingRxAll | PendingTxAll
)
