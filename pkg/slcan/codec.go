// Package slcan drives serial line CAN adapters (Lawicel protocol) such
// as the CANable or CANUSB in ASCII mode.
package slcan

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"

	"github.com/roffe/canhw"
)

var (
	ErrShortLine   = errors.New("slcan: line too short")
	ErrUnknownLine = errors.New("slcan: unknown response")
)

// bitrateCommands are the S0-S8 setup commands.
var bitrateCommands = []struct {
	bitrate uint32
	cmd     string
}{
	{10000, "S0"},
	{20000, "S1"},
	{50000, "S2"},
	{100000, "S3"},
	{125000, "S4"},
	{250000, "S5"},
	{500000, "S6"},
	{800000, "S7"},
	{1000000, "S8"},
}

func bitrateCommand(bitrate uint32) (string, bool) {
	for _, c := range bitrateCommands {
		if c.bitrate == bitrate {
			return c.cmd, true
		}
	}
	return "", false
}

// btrCommand is the "sxxyy" command that writes BTR0/BTR1 directly.
func btrCommand(btr uint16) string {
	return fmt.Sprintf("s%02X%02X", btr>>8, btr&0xFF)
}

// acceptanceCommands returns the "Mxxxxxxxx" and "mxxxxxxxx" commands.
// The adapter takes the SJA1000 code and mask registers as is.
func acceptanceCommands(amr, acr uint32) (string, string) {
	return fmt.Sprintf("M%08X", acr), fmt.Sprintf("m%08X", amr)
}

func nybbleToHex(n byte) byte {
	if n < 10 {
		return '0' + n
	}
	return 'A' + (n - 10)
}

// AppendFrame appends the transmit command for f, including the trailing
// carriage return.
func AppendFrame(buf []byte, f canhw.Frame) []byte {
	var digits int
	switch {
	case f.Extended() && f.Remote():
		buf, digits = append(buf, 'R'), 8
	case f.Extended():
		buf, digits = append(buf, 'T'), 8
	case f.Remote():
		buf, digits = append(buf, 'r'), 3
	default:
		buf, digits = append(buf, 't'), 3
	}
	for i := digits - 1; i >= 0; i-- {
		buf = append(buf, nybbleToHex(byte(f.Identifier>>(uint(i)*4))&0xF))
	}
	buf = append(buf, nybbleToHex(byte(len(f.Data))&0xF))
	if !f.Remote() {
		for _, b := range f.Data {
			buf = append(buf, nybbleToHex(b>>4), nybbleToHex(b&0xF))
		}
	}
	return append(buf, '\r')
}

// DecodeFrame parses a received frame line without its carriage return.
// An optional 4 digit millisecond timestamp after the data is honoured.
func DecodeFrame(line []byte) (canhw.Frame, error) {
	if len(line) == 0 {
		return canhw.Frame{}, ErrShortLine
	}
	var f canhw.Frame
	digits := 3
	switch line[0] {
	case 't':
	case 'T':
		digits = 8
		f.Flags |= canhw.FlagExtended
	case 'r':
		f.Flags |= canhw.FlagRemote
	case 'R':
		digits = 8
		f.Flags |= canhw.FlagExtended | canhw.FlagRemote
	default:
		return canhw.Frame{}, fmt.Errorf("%w: %q", ErrUnknownLine, line)
	}
	if len(line) < 1+digits+1 {
		return canhw.Frame{}, fmt.Errorf("%w: %q", ErrShortLine, line)
	}
	id, err := strconv.ParseUint(string(line[1:1+digits]), 16, 32)
	if err != nil {
		return canhw.Frame{}, fmt.Errorf("failed to decode identifier: %v", err)
	}
	f.Identifier = uint32(id)
	dlc, err := strconv.ParseUint(string(line[1+digits]), 16, 8)
	if err != nil {
		return canhw.Frame{}, fmt.Errorf("failed to decode data length: %v", err)
	}
	if dlc > canhw.MaxDataLength {
		return canhw.Frame{}, fmt.Errorf("invalid data length: %d", dlc)
	}
	rest := line[2+digits:]
	if f.Remote() {
		f.Data = make([]byte, 0)
	} else {
		if len(rest) < int(dlc)*2 {
			return canhw.Frame{}, fmt.Errorf("%w: %q", ErrShortLine, line)
		}
		f.Data, err = hex.DecodeString(string(rest[:dlc*2]))
		if err != nil {
			return canhw.Frame{}, fmt.Errorf("failed to decode frame body: %v", err)
		}
		rest = rest[dlc*2:]
	}
	if len(rest) == 4 {
		if ms, err := strconv.ParseUint(string(rest), 16, 16); err == nil {
			f.Timestamp = msDuration(ms)
		}
	}
	return f, f.Validate()
}

// Status flag bits returned by the "F" command.
const (
	statusRxFull     = 1 << 0
	statusTxFull     = 1 << 1
	statusErrWarning = 1 << 2
	statusOverrun    = 1 << 3
	statusErrPassive = 1 << 5
	statusArbLost    = 1 << 6
	statusBusError   = 1 << 7
)

// decodeStatus parses an "Fxx" reply into controller status bits. Arbitration
// loss has no equivalent and is dropped.
func decodeStatus(line []byte) (canhw.CANStatus, error) {
	if len(line) != 3 || line[0] != 'F' {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLine, line)
	}
	v, err := strconv.ParseUint(string(line[1:]), 16, 8)
	if err != nil {
		return 0, fmt.Errorf("status flags %q: %v", line, err)
	}
	var st canhw.CANStatus
	if v&statusRxFull != 0 {
		st |= canhw.CANStatusQOVERRUN
	}
	if v&statusTxFull != 0 {
		st |= canhw.CANStatusQXMTFULL
	}
	if v&statusErrWarning != 0 {
		st |= canhw.CANStatusBUSLIGHT
	}
	if v&statusOverrun != 0 {
		st |= canhw.CANStatusOVERRUN
	}
	if v&statusErrPassive != 0 {
		st |= canhw.CANStatusBUSHEAVY
	}
	if v&statusBusError != 0 {
		st |= canhw.CANStatusBUSOFF
	}
	return st, nil
}

// decodeVersion parses a "Vhhss" reply. The software digits become
// major.minor of the firmware version, the hardware digits its release.
func decodeVersion(line []byte) (canhw.FirmwareVersion, error) {
	if len(line) != 5 || line[0] != 'V' {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLine, line)
	}
	d := make([]int, 4)
	for i, c := range line[1:] {
		v, err := strconv.ParseUint(string(c), 16, 8)
		if err != nil {
			return 0, fmt.Errorf("version %q: %v", line, err)
		}
		d[i] = int(v)
	}
	return canhw.NewFirmwareVersion(d[2], d[3], d[0]*10+d[1]), nil
}

// decodeSerial parses an "Nxxxx" reply.
func decodeSerial(line []byte) (uint32, error) {
	if len(line) != 5 || line[0] != 'N' {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLine, line)
	}
	v, err := strconv.ParseUint(string(line[1:]), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("serial %q: %v", line, err)
	}
	return uint32(v), nil
}
