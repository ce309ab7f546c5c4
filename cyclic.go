package canhw

import (
	"fmt"
	"time"
)

// MaxCyclicFrames bounds the frame list of a periodic task.
const MaxCyclicFrames = 16

// PeriodicTask describes frames the hardware or kernel retransmits on its
// own. Count frames are sent InitialPeriod apart before switching to
// SubsequentPeriod; an InitialPeriod of zero skips the first phase.
type PeriodicTask struct {
	Channel          Channel
	Frames           []Frame
	InitialPeriod    time.Duration
	SubsequentPeriod time.Duration
	Count            uint32
	Enabled          bool
}

func (t PeriodicTask) Validate() error {
	if !t.Channel.Physical() {
		return fmt.Errorf("%w: %s", ErrInvalidChannel, t.Channel)
	}
	if len(t.Frames) > MaxCyclicFrames {
		return fmt.Errorf("%w: %d > %d", ErrTooManyFrames, len(t.Frames), MaxCyclicFrames)
	}
	if t.InitialPeriod < 0 || t.SubsequentPeriod < 0 {
		return fmt.Errorf("%w: initial %s, subsequent %s", ErrInvalidPeriod, t.InitialPeriod, t.SubsequentPeriod)
	}
	for i, f := range t.Frames {
		if err := f.Validate(); err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	return nil
}

// CyclicFlags control how a defined task list is transmitted.
type CyclicFlags uint32

const (
	CyclicStop  CyclicFlags = 0x00000000
	CyclicStart CyclicFlags = 0x00000001
	// CyclicSequenceMode sends one list entry per period instead of the
	// whole list.
	CyclicSequenceMode CyclicFlags = 0x00000002
	CyclicNoEcho       CyclicFlags = 0x00010000
)

// CyclicLock returns the flag that suspends list entry i (0-15).
func CyclicLock(i int) CyclicFlags {
	return CyclicFlags(0x4) << uint(i&0xF)
}
