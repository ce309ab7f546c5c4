package canhw

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// FirmwareVersion is the packed version word used by USB-CAN firmware:
// major in bits 0-7, minor in bits 8-15, release in bits 16-31.
type FirmwareVersion uint32

func NewFirmwareVersion(major, minor, release int) FirmwareVersion {
	return FirmwareVersion(uint32(release&0xFFFF)<<16 | uint32(minor&0xFF)<<8 | uint32(major&0xFF))
}

func (v FirmwareVersion) Major() int   { return int(v & 0xFF) }
func (v FirmwareVersion) Minor() int   { return int(v&0xFF00) >> 8 }
func (v FirmwareVersion) Release() int { return int(v&0xFFFF0000) >> 16 }

func (v FirmwareVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Release())
}

// Semver returns the version in the "vMAJOR.MINOR.PATCH" form.
func (v FirmwareVersion) Semver() string {
	return "v" + v.String()
}

// AtLeast reports whether v is equal to or newer than major.minor. The
// release number is ignored, matching the firmware feature tables.
func (v FirmwareVersion) AtLeast(major, minor int) bool {
	have := fmt.Sprintf("v%d.%d.0", v.Major(), v.Minor())
	want := fmt.Sprintf("v%d.%d.0", major, minor)
	return semver.Compare(have, want) >= 0
}

// MinCyclicFirmware is the first firmware with autonomous cyclic transmission.
var MinCyclicFirmware = NewFirmwareVersion(3, 6, 0)

type HardwareInfo struct {
	DeviceNumber uint8
	Serial       uint32
	Firmware     FirmwareVersion
	ProductCode  uint32
	Channels     int
	// Description is free text some drivers fill in, e.g. the adapter
	// identification string of serial adapters.
	Description string
}

// SupportsCyclic reports whether the firmware can run cyclic tasks. A zero
// firmware word means the driver does not report one.
func (hi HardwareInfo) SupportsCyclic() bool {
	if hi.Firmware == 0 {
		return true
	}
	return hi.Firmware.AtLeast(MinCyclicFirmware.Major(), MinCyclicFirmware.Minor())
}

func (hi HardwareInfo) String() string {
	return fmt.Sprintf("device %d serial %d fw %s product 0x%04X channels %d",
		hi.DeviceNumber, hi.Serial, hi.Firmware, hi.ProductCode, hi.Channels)
}
