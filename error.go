package canhw

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

var (
	ErrNotInitialized    = errors.New("channel or hardware not initialized")
	ErrChannelsStillOpen = errors.New("channels still open")
	ErrClosed            = errors.New("hardware closed")
	ErrInvalidChannel    = errors.New("invalid channel")
	ErrNotSupported      = errors.New("operation not supported by driver")
	ErrTooManyFrames     = errors.New("too many frames for cyclic task")
	ErrInvalidPeriod     = errors.New("invalid period")
	ErrUnknownDriver     = errors.New("unknown driver")

	// ErrDeviceTier and ErrDriverTier match every *DeviceError and
	// *DriverError respectively when used with errors.Is.
	ErrDeviceTier = errors.New("device error")
	ErrDriverTier = errors.New("driver error")
)

// DeviceError is a fault reported by the attached firmware or peripheral.
type DeviceError struct {
	Code int
	Func string
	Args []any
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error 0x%02X in %s(%s)", e.Code, e.Func, formatArgs(e.Args))
}

func (e *DeviceError) Is(target error) bool { return target == ErrDeviceTier }

// DriverError is a fault reported by the host side driver layer.
type DriverError struct {
	Code int
	Func string
	Args []any
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("driver error 0x%02X in %s(%s)", e.Code, e.Func, formatArgs(e.Args))
}

func (e *DriverError) Is(target error) bool { return target == ErrDriverTier }

func formatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%v", a)
	}
	return strings.Join(parts, ", ")
}

// Code returns the raw return code carried by a tiered error.
func Code(err error) (int, bool) {
	var de *DeviceError
	if errors.As(err, &de) {
		return de.Code, true
	}
	var dr *DriverError
	if errors.As(err, &dr) {
		return dr.Code, true
	}
	return 0, false
}

// checkCode turns a raw return code into an error. Warnings are logged,
// never returned.
func checkCode(l zerolog.Logger, t Thresholds, code int, fn string, args ...any) (StatusCode, error) {
	sc := Classify(code, t)
	switch sc.Severity {
	case DeviceFault:
		return sc, &DeviceError{Code: code, Func: fn, Args: args}
	case DriverFault:
		return sc, &DriverError{Code: code, Func: fn, Args: args}
	case Warning:
		if sc.Loggable() {
			l.Warn().Int("code", code).Str("func", fn).Str("args", formatArgs(args)).Msg("driver warning")
		}
	}
	return sc, nil
}
