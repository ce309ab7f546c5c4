package ucan

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/roffe/canhw"
)

// The library packs every structure to 1 byte and uses little endian on
// all supported hosts.
var le = binary.LittleEndian

const (
	canMsgSize         = 18
	initCanParamSize   = 24
	hardwareInfoSize   = 38
	channelInfoSize    = 26
	statusSize         = 4
	msgCountInfoSize   = 4
	maxDataLength      = 8
	frameFormatExt     = 0x80
	frameFormatRTR     = 0x40
	prodCodeMaskPID    = 0x0000FFFF
	prodCodePIDTwoCha  = 0x00000001
	prodCodePIDMulti   = 0x00001103
	initParamSizeField = initCanParamSize
	maxCyclicMsgs      = canhw.MaxCyclicFrames
)

// canMsg is tCanMsgStruct.
type canMsg struct {
	ID   uint32
	FF   uint8
	DLC  uint8
	Data [maxDataLength]byte
	Time uint32
}

func (m canMsg) put(b []byte) {
	le.PutUint32(b[0:], m.ID)
	b[4] = m.FF
	b[5] = m.DLC
	copy(b[6:14], m.Data[:])
	le.PutUint32(b[14:], m.Time)
}

func getCanMsg(b []byte) canMsg {
	m := canMsg{
		ID:   le.Uint32(b[0:]),
		FF:   b[4],
		DLC:  b[5],
		Time: le.Uint32(b[14:]),
	}
	copy(m.Data[:], b[6:14])
	return m
}

func marshalCanMsgs(msgs []canMsg) []byte {
	b := make([]byte, max(len(msgs), 1)*canMsgSize)
	for i, m := range msgs {
		m.put(b[i*canMsgSize:])
	}
	return b
}

func unmarshalCanMsgs(b []byte, n int) []canMsg {
	n = min(n, len(b)/canMsgSize)
	out := make([]canMsg, n)
	for i := range out {
		out[i] = getCanMsg(b[i*canMsgSize:])
	}
	return out
}

func toCanMsg(f canhw.Frame) canMsg {
	m := canMsg{ID: f.Identifier, DLC: uint8(len(f.Data))}
	if f.Extended() {
		m.FF |= frameFormatExt
	}
	if f.Remote() {
		m.FF |= frameFormatRTR
	}
	copy(m.Data[:], f.Data)
	return m
}

func (m canMsg) frame() canhw.Frame {
	n := min(int(m.DLC), maxDataLength)
	f := canhw.Frame{
		Identifier: m.ID,
		Timestamp:  time.Duration(m.Time) * time.Millisecond,
	}
	if m.FF&frameFormatExt != 0 {
		f.Flags |= canhw.FlagExtended
	}
	if m.FF&frameFormatRTR != 0 {
		f.Flags |= canhw.FlagRemote
		f.Data = make([]byte, 0)
	} else {
		f.Data = append(make([]byte, 0, n), m.Data[:n]...)
	}
	return f
}

// initCanParam is tUcanInitCanParam.
type initCanParam struct {
	Mode      uint8
	BTR0      uint8
	BTR1      uint8
	OCR       uint8
	AMR       uint32
	ACR       uint32
	Baudrate  uint32
	RxEntries uint16
	TxEntries uint16
}

func newInitCanParam(cfg canhw.ChannelConfig) initCanParam {
	return initCanParam{
		Mode:      uint8(cfg.Mode),
		BTR0:      uint8(cfg.BTR >> 8),
		BTR1:      uint8(cfg.BTR),
		OCR:       cfg.OCR,
		AMR:       cfg.AMR,
		ACR:       cfg.ACR,
		Baudrate:  cfg.BaudrateEx,
		RxEntries: cfg.RxBufferEntries,
		TxEntries: cfg.TxBufferEntries,
	}
}

func (p initCanParam) marshal() []byte {
	b := make([]byte, initCanParamSize)
	le.PutUint32(b[0:], initParamSizeField)
	b[4] = p.Mode
	b[5] = p.BTR0
	b[6] = p.BTR1
	b[7] = p.OCR
	le.PutUint32(b[8:], p.AMR)
	le.PutUint32(b[12:], p.ACR)
	le.PutUint32(b[16:], p.Baudrate)
	le.PutUint16(b[20:], p.RxEntries)
	le.PutUint16(b[22:], p.TxEntries)
	return b
}

// hardwareInfoEx is tUcanHardwareInfoEx.
type hardwareInfoEx struct {
	Handle      uint8
	DeviceNr    uint8
	Serial      uint32
	FwVersionEx uint32
	ProductCode uint32
	UniqueID    [4]uint32
	Flags       uint32
}

func newHardwareInfoBuf() []byte {
	b := make([]byte, hardwareInfoSize)
	le.PutUint32(b, hardwareInfoSize)
	return b
}

func unmarshalHardwareInfo(b []byte) (hardwareInfoEx, error) {
	if len(b) < hardwareInfoSize {
		return hardwareInfoEx{}, fmt.Errorf("ucan: hardware info %d bytes", len(b))
	}
	hw := hardwareInfoEx{
		Handle:      b[4],
		DeviceNr:    b[5],
		Serial:      le.Uint32(b[6:]),
		FwVersionEx: le.Uint32(b[10:]),
		ProductCode: le.Uint32(b[14:]),
		Flags:       le.Uint32(b[34:]),
	}
	for i := range hw.UniqueID {
		hw.UniqueID[i] = le.Uint32(b[18+4*i:])
	}
	return hw, nil
}

func (hw hardwareInfoEx) marshal() []byte {
	b := newHardwareInfoBuf()
	b[4] = hw.Handle
	b[5] = hw.DeviceNr
	le.PutUint32(b[6:], hw.Serial)
	le.PutUint32(b[10:], hw.FwVersionEx)
	le.PutUint32(b[14:], hw.ProductCode)
	for i, v := range hw.UniqueID {
		le.PutUint32(b[18+4*i:], v)
	}
	le.PutUint32(b[34:], hw.Flags)
	return b
}

func (hw hardwareInfoEx) channels() int {
	if hw.ProductCode&prodCodeMaskPID >= prodCodePIDMulti && hw.ProductCode&prodCodePIDTwoCha != 0 {
		return 2
	}
	return 1
}

func (hw hardwareInfoEx) info() canhw.HardwareInfo {
	return canhw.HardwareInfo{
		DeviceNumber: hw.DeviceNr,
		Serial:       hw.Serial,
		Firmware:     canhw.FirmwareVersion(hw.FwVersionEx),
		ProductCode:  hw.ProductCode,
		Channels:     hw.channels(),
	}
}

// channelInfo is tUcanChannelInfo.
type channelInfo struct {
	Mode      uint8
	BTR0      uint8
	BTR1      uint8
	OCR       uint8
	AMR       uint32
	ACR       uint32
	Baudrate  uint32
	CanIsInit bool
	CanStatus uint16
}

func newChannelInfoBuf() []byte {
	b := make([]byte, channelInfoSize)
	le.PutUint32(b, channelInfoSize)
	return b
}

func unmarshalChannelInfo(b []byte) channelInfo {
	return channelInfo{
		Mode:      b[4],
		BTR0:      b[5],
		BTR1:      b[6],
		OCR:       b[7],
		AMR:       le.Uint32(b[8:]),
		ACR:       le.Uint32(b[12:]),
		Baudrate:  le.Uint32(b[16:]),
		CanIsInit: le.Uint32(b[20:]) != 0,
		CanStatus: le.Uint16(b[24:]),
	}
}

// status is tStatusStruct.
type status struct {
	CAN uint16
	USB uint16
}

func unmarshalStatus(b []byte) status {
	return status{CAN: le.Uint16(b[0:]), USB: le.Uint16(b[2:])}
}

// msgCountInfo is tUcanMsgCountInfo.
type msgCountInfo struct {
	Sent uint16
	Recv uint16
}

func unmarshalMsgCountInfo(b []byte) msgCountInfo {
	return msgCountInfo{Sent: le.Uint16(b[0:]), Recv: le.Uint16(b[2:])}
}
