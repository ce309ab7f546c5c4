package bcm

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type Opcode uint32

const (
	TxSetup Opcode = iota + 1
	TxDelete
	TxRead
	TxSend
	RxSetup
	RxDelete
	RxRead
	TxStatus
	TxExpired
	RxStatus
	RxTimeout
	RxChanged
)

func (o Opcode) String() string {
	names := [...]string{"", "TX_SETUP", "TX_DELETE", "TX_READ", "TX_SEND", "RX_SETUP", "RX_DELETE",
		"RX_READ", "TX_STATUS", "TX_EXPIRED", "RX_STATUS", "RX_TIMEOUT", "RX_CHANGED"}
	if int(o) > 0 && int(o) < len(names) {
		return names[o]
	}
	return fmt.Sprintf("OPCODE(%d)", uint32(o))
}

type Flags uint32

const (
	SetTimer         Flags = 0x0001
	StartTimer       Flags = 0x0002
	TxCountEvt       Flags = 0x0004
	TxAnnounce       Flags = 0x0008
	TxCPCanID        Flags = 0x0010
	RxFilterID       Flags = 0x0020
	RxCheckDLC       Flags = 0x0040
	RxNoAutoTimer    Flags = 0x0080
	RxAnnounceResume Flags = 0x0100
	TxResetMultiIdx  Flags = 0x0200
	RxRTRFrame       Flags = 0x0400
	CANFDFrame       Flags = 0x0800
)

var (
	ErrShortBuffer   = errors.New("bcm: buffer shorter than header")
	ErrNegativeTime  = errors.New("bcm: negative interval")
	ErrTimeOverflow  = errors.New("bcm: interval does not fit in a C long")
	errUnknownLayout = errors.New("bcm: layout has no ABI")
)

// Timeval mirrors struct bcm_timeval. Usec is always in [0, 999999] for
// values produced by this package.
type Timeval struct {
	Sec  int64
	Usec int64
}

// TimevalOf splits d into whole seconds and a rounded microsecond
// remainder, carrying into the seconds when the remainder rounds up to a
// full second.
func TimevalOf(d time.Duration) (Timeval, error) {
	if d < 0 {
		return Timeval{}, fmt.Errorf("%w: %s", ErrNegativeTime, d)
	}
	sec := int64(d / time.Second)
	usec := (int64(d%time.Second) + int64(time.Microsecond)/2) / int64(time.Microsecond)
	if usec >= 1000000 {
		sec++
		usec -= 1000000
	}
	return Timeval{Sec: sec, Usec: usec}, nil
}

// TimevalFromSeconds is TimevalOf for a period given in seconds.
func TimevalFromSeconds(s float64) (Timeval, error) {
	if s < 0 || math.IsNaN(s) {
		return Timeval{}, fmt.Errorf("%w: %v", ErrNegativeTime, s)
	}
	whole := math.Floor(s)
	usec := int64(math.Round((s - whole) * 1e6))
	sec := int64(whole)
	if usec >= 1000000 {
		sec++
		usec -= 1000000
	}
	return Timeval{Sec: sec, Usec: usec}, nil
}

func (tv Timeval) Duration() time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}

func (tv Timeval) IsZero() bool { return tv.Sec == 0 && tv.Usec == 0 }

// Header is the decoded form of struct bcm_msg_head without its frames.
type Header struct {
	Opcode  Opcode
	Flags   Flags
	Count   uint32
	Ival1   Timeval
	Ival2   Timeval
	CANID   uint32
	NFrames uint32
}

func (h Header) String() string {
	return fmt.Sprintf("%s flags=0x%X count=%d ival1=%d.%06d ival2=%d.%06d can_id=0x%X nframes=%d",
		h.Opcode, uint32(h.Flags), h.Count, h.Ival1.Sec, h.Ival1.Usec, h.Ival2.Sec, h.Ival2.Usec, h.CANID, h.NFrames)
}

// Codec encodes headers for one layout.
type Codec struct {
	layout Layout
}

func NewCodec(abi ABI) (*Codec, error) {
	l, err := LayoutFor(abi)
	if err != nil {
		return nil, err
	}
	return &Codec{layout: l}, nil
}

// NativeCodec returns a codec for the running program.
func NativeCodec() *Codec {
	return &Codec{layout: nativeLayout}
}

func (c *Codec) Layout() Layout { return c.layout }

// DeleteHeader removes the transmission of canID.
func DeleteHeader(canID uint32, flags Flags) Header {
	return Header{
		Opcode:  TxDelete,
		Flags:   flags,
		CANID:   canID,
		NFrames: 1,
	}
}

// SetupHeader starts a cyclic transmission of canID. count frames are sent
// initial apart, then transmission continues every subsequent. The timer
// flags are always added, TxCountEvt only when there is an initial phase.
func SetupHeader(canID, count uint32, initial, subsequent time.Duration, flags Flags) (Header, error) {
	ival1, err := TimevalOf(initial)
	if err != nil {
		return Header{}, err
	}
	ival2, err := TimevalOf(subsequent)
	if err != nil {
		return Header{}, err
	}
	flags |= SetTimer | StartTimer
	if initial > 0 {
		flags |= TxCountEvt
	}
	return Header{
		Opcode:  TxSetup,
		Flags:   flags,
		Count:   count,
		Ival1:   ival1,
		Ival2:   ival2,
		CANID:   canID,
		NFrames: 1,
	}, nil
}

// UpdateHeader replaces the payload of a running transmission without
// touching its timers.
func UpdateHeader(canID uint32, flags Flags) Header {
	return Header{
		Opcode:  TxSetup,
		Flags:   flags,
		CANID:   canID,
		NFrames: 1,
	}
}

func (c *Codec) EncodeDelete(canID uint32, flags Flags) []byte {
	b, _ := c.Marshal(DeleteHeader(canID, flags))
	return b
}

func (c *Codec) EncodeSetup(canID, count uint32, initial, subsequent time.Duration, flags Flags) ([]byte, error) {
	h, err := SetupHeader(canID, count, initial, subsequent, flags)
	if err != nil {
		return nil, err
	}
	return c.Marshal(h)
}

func (c *Codec) EncodeUpdate(canID uint32, flags Flags) []byte {
	b, _ := c.Marshal(UpdateHeader(canID, flags))
	return b
}

// Marshal encodes h into a buffer of exactly Layout().Size bytes; the tail
// padding up to the frame array is zero.
func (c *Codec) Marshal(h Header) ([]byte, error) {
	return c.AppendHeader(nil, h)
}

// AppendHeader appends the encoded header to dst.
func (c *Codec) AppendHeader(dst []byte, h Header) ([]byte, error) {
	l := c.layout
	bo := l.ABI.ByteOrder
	if bo == nil {
		return nil, errUnknownLayout
	}
	start := len(dst)
	dst = append(dst, make([]byte, l.Size)...)
	b := dst[start:]
	bo.PutUint32(b[l.Opcode:], uint32(h.Opcode))
	bo.PutUint32(b[l.Flags:], uint32(h.Flags))
	bo.PutUint32(b[l.Count:], h.Count)
	for _, f := range []struct {
		off int
		v   int64
	}{
		{l.Ival1Sec, h.Ival1.Sec},
		{l.Ival1Usec, h.Ival1.Usec},
		{l.Ival2Sec, h.Ival2.Sec},
		{l.Ival2Usec, h.Ival2.Usec},
	} {
		if err := c.putLong(b[f.off:], f.v); err != nil {
			return nil, err
		}
	}
	bo.PutUint32(b[l.CANID:], h.CANID)
	bo.PutUint32(b[l.NFrames:], h.NFrames)
	return dst, nil
}

func (c *Codec) putLong(b []byte, v int64) error {
	bo := c.layout.ABI.ByteOrder
	if c.layout.ABI.LongSize == 4 {
		if v > math.MaxInt32 || v < math.MinInt32 {
			return fmt.Errorf("%w: %d", ErrTimeOverflow, v)
		}
		bo.PutUint32(b, uint32(int32(v)))
		return nil
	}
	bo.PutUint64(b, uint64(v))
	return nil
}

func (c *Codec) long(b []byte) int64 {
	bo := c.layout.ABI.ByteOrder
	if c.layout.ABI.LongSize == 4 {
		return int64(int32(bo.Uint32(b)))
	}
	return int64(bo.Uint64(b))
}

// Decode parses the header at the start of b. Bytes after the header are
// ignored.
func (c *Codec) Decode(b []byte) (Header, error) {
	l := c.layout
	if len(b) < l.Size {
		return Header{}, fmt.Errorf("%w: %d < %d", ErrShortBuffer, len(b), l.Size)
	}
	bo := l.ABI.ByteOrder
	return Header{
		Opcode:  Opcode(bo.Uint32(b[l.Opcode:])),
		Flags:   Flags(bo.Uint32(b[l.Flags:])),
		Count:   bo.Uint32(b[l.Count:]),
		Ival1:   Timeval{Sec: c.long(b[l.Ival1Sec:]), Usec: c.long(b[l.Ival1Usec:])},
		Ival2:   Timeval{Sec: c.long(b[l.Ival2Sec:]), Usec: c.long(b[l.Ival2Usec:])},
		CANID:   bo.Uint32(b[l.CANID:]),
		NFrames: bo.Uint32(b[l.NFrames:]),
	}, nil
}

// EncodeDelete, EncodeSetup, EncodeUpdate and Decode use the native layout.

func EncodeDelete(canID uint32, flags Flags) []byte {
	return NativeCodec().EncodeDelete(canID, flags)
}

func EncodeSetup(canID, count uint32, initial, subsequent time.Duration, flags Flags) ([]byte, error) {
	return NativeCodec().EncodeSetup(canID, count, initial, subsequent, flags)
}

func EncodeUpdate(canID uint32, flags Flags) []byte {
	return NativeCodec().EncodeUpdate(canID, flags)
}

func Decode(b []byte) (Header, error) {
	return NativeCodec().Decode(b)
}
