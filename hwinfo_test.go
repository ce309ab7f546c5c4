package canhw

import "testing"

func TestFirmwareVersion(t *testing.T) {
	v := NewFirmwareVersion(3, 6, 1234)
	if v.Major() != 3 || v.Minor() != 6 || v.Release() != 1234 {
		t.Fatalf("unpacked %d.%d.%d", v.Major(), v.Minor(), v.Release())
	}
	if uint32(v) != 1234<<16|6<<8|3 {
		t.Errorf("packed 0x%08X", uint32(v))
	}
	if v.String() != "3.6.1234" || v.Semver() != "v3.6.1234" {
		t.Errorf("%s %s", v, v.Semver())
	}
}

func TestFirmwareAtLeast(t *testing.T) {
	tests := []struct {
		v            FirmwareVersion
		major, minor int
		want         bool
	}{
		{NewFirmwareVersion(3, 6, 0), 3, 6, true},
		{NewFirmwareVersion(3, 5, 999), 3, 6, false},
		{NewFirmwareVersion(3, 10, 0), 3, 6, true},
		{NewFirmwareVersion(4, 0, 0), 3, 6, true},
		{NewFirmwareVersion(2, 99, 0), 3, 6, false},
	}
	for _, tt := range tests {
		if got := tt.v.AtLeast(tt.major, tt.minor); got != tt.want {
			t.Errorf("%s.AtLeast(%d, %d) = %v", tt.v, tt.major, tt.minor, got)
		}
	}
}

func TestSupportsCyclic(t *testing.T) {
	tests := []struct {
		fw   FirmwareVersion
		want bool
	}{
		{0, true},
		{MinCyclicFirmware, true},
		{NewFirmwareVersion(3, 5, 0), false},
	}
	for _, tt := range tests {
		if got := (HardwareInfo{Firmware: tt.fw}).SupportsCyclic(); got != tt.want {
			t.Errorf("%s: got %v", tt.fw, got)
		}
	}
}
