package canhw

import (
	"reflect"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		severity Severity
		noData   bool
	}{
		{"success", 0x00, Success, false},
		{"driver low", 0x01, DriverFault, false},
		{"driver high", 0x3F, DriverFault, false},
		{"negative", -1, DriverFault, false},
		{"device low", 0x40, DeviceFault, false},
		{"device high", 0x7F, DeviceFault, false},
		{"warning threshold is no data", 0x80, Warning, true},
		{"warning", 0x81, Warning, false},
		{"tx limit", 0x91, Warning, false},
		{"large", 0xFFFF, Warning, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := Classify(tt.code, DefaultThresholds)
			if sc.Severity != tt.severity || sc.NoData != tt.noData {
				t.Errorf("Classify(0x%X) = %s nodata=%v, want %s nodata=%v", tt.code, sc, sc.NoData, tt.severity, tt.noData)
			}
			if sc.Raw != tt.code {
				t.Errorf("raw %d", sc.Raw)
			}
		})
	}
}

func TestClassifyExclusive(t *testing.T) {
	for code := -0x100; code <= 0x200; code++ {
		sc := Classify(code, DefaultThresholds)
		n := 0
		for _, b := range []bool{sc.OK(), sc.Failed(), sc.Severity == Warning} {
			if b {
				n++
			}
		}
		if n != 1 {
			t.Fatalf("code 0x%X falls in %d tiers", code, n)
		}
		if sc.Loggable() && sc.NoData {
			t.Fatalf("code 0x%X: no data marked loggable", code)
		}
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	th := Thresholds{Success: 1, ErrCmd: 100, Warning: 200, NoData: 201}
	tests := []struct {
		code int
		want Severity
	}{
		{1, Success},
		{0, DriverFault},
		{99, DriverFault},
		{100, DeviceFault},
		{200, Warning},
	}
	for _, tt := range tests {
		if got := Classify(tt.code, th).Severity; got != tt.want {
			t.Errorf("Classify(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
	if !Classify(201, th).NoData {
		t.Error("custom no data code not recognized")
	}
}

func TestCANStatusMessages(t *testing.T) {
	tests := []struct {
		st   CANStatus
		want []string
	}{
		{CANStatusOK, []string{"OK"}},
		{CANStatusBUSOFF, []string{"Bus Off"}},
		{CANStatusBUSLIGHT | CANStatusTXMSGLOST, []string{"Transmit message lost", "Warning Limit"}},
	}
	for _, tt := range tests {
		if got := tt.st.Messages(); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("%04X: got %v, want %v", uint16(tt.st), got, tt.want)
		}
	}
	cs := ChannelStatus{CAN: CANStatusQOVERRUN, USB: 0x2000}
	if got := cs.Messages(); len(got) != 1 || got[0] != "Receive queue overrun" {
		t.Errorf("channel status messages %v", got)
	}
	if cs.String() != "can: Receive queue overrun, usb: 0x2000" {
		t.Errorf("got %q", cs.String())
	}
}
