// Package bcm encodes and decodes the control header of the Linux CAN
// broadcast manager (struct bcm_msg_head) and drives a CAN_BCM socket.
//
// The interval fields of the header are C longs, so their width and
// alignment, and with them every later offset and the total size, depend on
// the target ABI. Layouts are computed from an ABI description instead of
// being hard coded.
package bcm

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// ABI describes the C data model the kernel was built for.
type ABI struct {
	Name string
	// LongSize and LongAlign are sizeof(long) and _Alignof(long).
	LongSize  int
	LongAlign int
	// LongLongAlign is _Alignof(long long). It does not affect the header
	// but tells apart 32-bit targets that otherwise look alike.
	LongLongAlign int
	ByteOrder     binary.ByteOrder
}

// frameAlign is the alignment of struct can_frame, declared
// __attribute__((aligned(8))) by the kernel headers.
const frameAlign = 8

// CANFrameSize is sizeof(struct can_frame).
const CANFrameSize = 16

var (
	// ABI386 is i386: long and long long both align at 4.
	ABI386 = ABI{Name: "i386", LongSize: 4, LongAlign: 4, LongLongAlign: 4, ByteOrder: binary.LittleEndian}
	// ABIARM is 32-bit ARM EABI: long aligns at 4, long long at 8.
	ABIARM = ABI{Name: "arm", LongSize: 4, LongAlign: 4, LongLongAlign: 8, ByteOrder: binary.LittleEndian}
	// ABI64 is any LP64 target such as amd64 or arm64.
	ABI64 = ABI{Name: "lp64", LongSize: 8, LongAlign: 8, LongLongAlign: 8, ByteOrder: binary.LittleEndian}
)

// NativeABI is the ABI of the running program. On every Linux target Go
// supports, C long has the size and alignment of a pointer.
var NativeABI = ABI{
	Name:          "native",
	LongSize:      int(unsafe.Sizeof(uintptr(0))),
	LongAlign:     int(unsafe.Alignof(uintptr(0))),
	LongLongAlign: int(unsafe.Alignof(uint64(0))),
	ByteOrder:     binary.NativeEndian,
}

// Layout holds the byte offsets of every bcm_msg_head field.
type Layout struct {
	ABI ABI

	Opcode     int
	Flags      int
	Count      int
	Ival1Sec   int
	Ival1Usec  int
	Ival2Sec   int
	Ival2Usec  int
	CANID      int
	NFrames    int
	FrameStart int
	// Size is sizeof(struct bcm_msg_head), the offset of frames[0].
	Size int
}

func alignUp(off, align int) int {
	if align <= 1 {
		return off
	}
	return (off + align - 1) / align * align
}

// LayoutFor lays out bcm_msg_head the way a C compiler for abi would.
func LayoutFor(abi ABI) (Layout, error) {
	if abi.LongSize != 4 && abi.LongSize != 8 {
		return Layout{}, fmt.Errorf("bcm: unsupported long size %d", abi.LongSize)
	}
	if abi.LongAlign <= 0 || abi.LongAlign > abi.LongSize {
		return Layout{}, fmt.Errorf("bcm: unsupported long alignment %d", abi.LongAlign)
	}
	if abi.ByteOrder == nil {
		abi.ByteOrder = binary.LittleEndian
	}
	l := Layout{ABI: abi}
	off := 0
	u32 := func() int {
		off = alignUp(off, 4)
		o := off
		off += 4
		return o
	}
	long := func() int {
		off = alignUp(off, abi.LongAlign)
		o := off
		off += abi.LongSize
		return o
	}
	l.Opcode = u32()
	l.Flags = u32()
	l.Count = u32()
	l.Ival1Sec = long()
	l.Ival1Usec = long()
	l.Ival2Sec = long()
	l.Ival2Usec = long()
	l.CANID = u32()
	l.NFrames = u32()
	l.FrameStart = alignUp(off, frameAlign)
	// The struct takes the strictest member alignment, which is the
	// frame array's.
	l.Size = l.FrameStart
	return l, nil
}

var nativeLayout = mustLayout(NativeABI)

func mustLayout(abi ABI) Layout {
	l, err := LayoutFor(abi)
	if err != nil {
		panic(err)
	}
	return l
}

// NativeLayout returns the layout for the running program.
func NativeLayout() Layout {
	return nativeLayout
}

func (l Layout) String() string {
	return fmt.Sprintf("%s: opcode@%d flags@%d count@%d ival1@%d/%d ival2@%d/%d can_id@%d nframes@%d frames@%d size=%d",
		l.ABI.Name, l.Opcode, l.Flags, l.Count, l.Ival1Sec, l.Ival1Usec, l.Ival2Sec, l.Ival2Usec,
		l.CANID, l.NFrames, l.FrameStart, l.Size)
}
