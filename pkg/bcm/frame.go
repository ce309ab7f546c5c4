package bcm

import (
	"fmt"
	"time"

	"github.com/roffe/canhw"
)

// canid_t flag and mask bits, as in linux/can.h.
const (
	effFlag = 0x80000000
	rtrFlag = 0x40000000
	errFlag = 0x20000000
	sffMask = 0x000007FF
	effMask = 0x1FFFFFFF
)

// CANID packs the identifier and the EFF/RTR/ERR flags of f into a
// canid_t.
func CANID(f canhw.Frame) uint32 {
	id := f.Identifier
	if f.Extended() {
		id = id&effMask | effFlag
	} else {
		id &= sffMask
	}
	if f.Remote() {
		id |= rtrFlag
	}
	if f.Flags&canhw.FlagError != 0 {
		id |= errFlag
	}
	return id
}

// FrameFromCANID is the inverse of CANID.
func FrameFromCANID(id uint32, data []byte) canhw.Frame {
	f := canhw.Frame{Data: data}
	if id&effFlag != 0 {
		f.Flags |= canhw.FlagExtended
		f.Identifier = id & effMask
	} else {
		f.Identifier = id & sffMask
	}
	if id&rtrFlag != 0 {
		f.Flags |= canhw.FlagRemote
	}
	if id&errFlag != 0 {
		f.Flags |= canhw.FlagError
	}
	return f
}

// AppendFrame appends f as a struct can_frame.
func (c *Codec) AppendFrame(dst []byte, f canhw.Frame) []byte {
	var b [CANFrameSize]byte
	c.layout.ABI.ByteOrder.PutUint32(b[0:], CANID(f))
	b[4] = byte(len(f.Data))
	copy(b[8:], f.Data)
	return append(dst, b[:]...)
}

// DecodeFrame parses one struct can_frame.
func (c *Codec) DecodeFrame(b []byte) (canhw.Frame, error) {
	if len(b) < CANFrameSize {
		return canhw.Frame{}, fmt.Errorf("bcm: short can_frame: %d bytes", len(b))
	}
	n := int(b[4])
	if n > canhw.MaxDataLength {
		return canhw.Frame{}, fmt.Errorf("bcm: can_frame length %d", n)
	}
	data := make([]byte, n)
	copy(data, b[8:8+n])
	return FrameFromCANID(c.layout.ABI.ByteOrder.Uint32(b[0:]), data), nil
}

// Message encodes a complete bcm message: h followed by frames. NFrames is
// taken from len(frames) unless frames is empty.
func (c *Codec) Message(h Header, frames ...canhw.Frame) ([]byte, error) {
	if len(frames) > 0 {
		h.NFrames = uint32(len(frames))
	}
	out, err := c.AppendHeader(make([]byte, 0, c.layout.Size+len(frames)*CANFrameSize), h)
	if err != nil {
		return nil, err
	}
	for _, f := range frames {
		out = c.AppendFrame(out, f)
	}
	return out, nil
}

// DecodeMessage splits a message read from a bcm socket into its header and
// frames.
func (c *Codec) DecodeMessage(b []byte) (Header, []canhw.Frame, error) {
	h, err := c.Decode(b)
	if err != nil {
		return Header{}, nil, err
	}
	rest := b[c.layout.Size:]
	n := int(h.NFrames)
	if len(rest) < n*CANFrameSize {
		return h, nil, fmt.Errorf("%w: %d frames announced, %d bytes left", ErrShortBuffer, n, len(rest))
	}
	frames := make([]canhw.Frame, 0, n)
	for i := 0; i < n; i++ {
		f, err := c.DecodeFrame(rest[i*CANFrameSize:])
		if err != nil {
			return h, nil, err
		}
		frames = append(frames, f)
	}
	return h, frames, nil
}

// TaskHeader builds the TX_SETUP header for a periodic task. The first
// frame's identifier names the kernel job.
func TaskHeader(task canhw.PeriodicTask, flags Flags) (Header, error) {
	if len(task.Frames) == 0 {
		return Header{}, fmt.Errorf("bcm: task without frames")
	}
	initial := task.InitialPeriod
	if task.Count == 0 {
		initial = 0
	}
	h, err := SetupHeader(CANID(task.Frames[0]), task.Count, initial, task.SubsequentPeriod, flags)
	if err != nil {
		return Header{}, err
	}
	h.NFrames = uint32(len(task.Frames))
	return h, nil
}

// Interval returns the period a header will fire at once the initial
// phase is over.
func (h Header) Interval() time.Duration {
	return h.Ival2.Duration()
}
