package canhw

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
)

const (
	MaxStandardID = 0x7FF
	MaxExtendedID = 0x1FFFFFFF
	MaxDataLength = 8
)

// FrameFlags uses the same bit values as the CANAL message flags.
type FrameFlags uint8

const (
	FlagExtended FrameFlags = 1 << iota
	FlagRemote
	FlagError
)

func (f FrameFlags) String() string {
	var parts []string
	if f&FlagExtended != 0 {
		parts = append(parts, "EXT")
	}
	if f&FlagRemote != 0 {
		parts = append(parts, "RTR")
	}
	if f&FlagError != 0 {
		parts = append(parts, "ERR")
	}
	if len(parts) == 0 {
		return "STD"
	}
	return strings.Join(parts, "|")
}

var (
	ErrInvalidFrame  = errors.New("invalid frame")
	ErrInvalidID     = fmt.Errorf("%w: identifier out of range", ErrInvalidFrame)
	ErrInvalidLength = fmt.Errorf("%w: payload longer than 8 bytes", ErrInvalidFrame)
)

type Frame struct {
	Identifier uint32
	Flags      FrameFlags
	Data       []byte
	// Timestamp is set by drivers on received frames, zero otherwise.
	Timestamp time.Duration
}

// NewFrame creates a standard frame and copies the data slice
func NewFrame(identifier uint32, data []byte) Frame {
	d := make([]byte, len(data))
	copy(d, data)
	return Frame{
		Identifier: identifier,
		Data:       d,
	}
}

// NewExtendedFrame creates an extended (29 bit) frame and copies the data slice
func NewExtendedFrame(identifier uint32, data []byte) Frame {
	f := NewFrame(identifier, data)
	f.Flags |= FlagExtended
	return f
}

func (f Frame) Extended() bool { return f.Flags&FlagExtended != 0 }
func (f Frame) Remote() bool   { return f.Flags&FlagRemote != 0 }

// DLC returns the length of the payload.
func (f Frame) DLC() int {
	return len(f.Data)
}

func (f Frame) Validate() error {
	if len(f.Data) > MaxDataLength {
		return fmt.Errorf("%w: %d", ErrInvalidLength, len(f.Data))
	}
	limit := uint32(MaxStandardID)
	if f.Extended() {
		limit = MaxExtendedID
	}
	if f.Identifier > limit {
		return fmt.Errorf("%w: 0x%X > 0x%X", ErrInvalidID, f.Identifier, limit)
	}
	return nil
}

var (
	blue  = color.New(color.FgHiBlue).SprintfFunc()
	red   = color.New(color.FgRed).SprintfFunc()
	green = color.New(color.FgGreen).SprintfFunc()
)

func (f Frame) idString() string {
	if f.Extended() {
		return fmt.Sprintf("0x%08X", f.Identifier)
	}
	return fmt.Sprintf("0x%03X", f.Identifier)
}

func (f Frame) hexView() string {
	var out strings.Builder
	for i, b := range f.Data {
		out.WriteString(fmt.Sprintf("%02X", b))
		if i != len(f.Data)-1 {
			out.WriteByte(' ')
		}
	}
	return out.String()
}

func (f Frame) String() string {
	var out strings.Builder
	out.WriteString(f.idString() + " || ")
	out.WriteString(f.Flags.String() + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", f.hexView()))
	out.WriteString(" || ")
	out.WriteString(onlyPrintable(f.Data))
	return out.String()
}

func (f Frame) ColorString() string {
	var out strings.Builder
	out.WriteString(green("%s", f.idString()) + " || ")
	out.WriteString(f.Flags.String() + " || ")
	out.WriteString(strconv.Itoa(len(f.Data)) + " || ")
	out.WriteString(red("%-23s", f.hexView()))
	out.WriteString(" || ")
	out.WriteString(blue("%s", onlyPrintable(f.Data)))
	return out.String()
}

func onlyPrintable(data []byte) string {
	var out strings.Builder
	for _, b := range data {
		if b < 32 || b > 126 {
			out.WriteByte('.')
		} else {
			out.WriteByte(b)
		}
	}
	return out.String()
}

// ParseFrame parses the cansend style notation "123#DEADBEEF", "1ABCDEF0#00"
// or "123#R". Identifiers with more than three hex digits are extended.
func ParseFrame(s string) (Frame, error) {
	id, payload, ok := strings.Cut(s, "#")
	if !ok {
		return Frame{}, fmt.Errorf("%w: missing '#' in %q", ErrInvalidFrame, s)
	}
	v, err := strconv.ParseUint(id, 16, 32)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: identifier %q: %v", ErrInvalidFrame, id, err)
	}
	f := Frame{Identifier: uint32(v)}
	if len(id) > 3 {
		f.Flags |= FlagExtended
	}
	switch {
	case strings.EqualFold(payload, "R"):
		f.Flags |= FlagRemote
	case len(payload)%2 != 0:
		return Frame{}, fmt.Errorf("%w: odd payload length in %q", ErrInvalidFrame, s)
	default:
		f.Data = make([]byte, 0, len(payload)/2)
		for i := 0; i < len(payload); i += 2 {
			b, err := strconv.ParseUint(payload[i:i+2], 16, 8)
			if err != nil {
				return Frame{}, fmt.Errorf("%w: payload %q: %v", ErrInvalidFrame, payload, err)
			}
			f.Data = append(f.Data, byte(b))
		}
	}
	return f, f.Validate()
}
