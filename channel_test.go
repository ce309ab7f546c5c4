package canhw

import "testing"

func TestChannelString(t *testing.T) {
	tests := map[Channel]string{
		Channel0:   "ch0",
		Channel1:   "ch1",
		ChannelAll: "all",
		ChannelAny: "any",
	}
	for ch, want := range tests {
		if got := ch.String(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	if ChannelAll.Physical() || ChannelAny.Physical() || Channel(2).Physical() || !Channel1.Physical() {
		t.Error("Physical mismatch")
	}
}

func TestAcceptanceMask(t *testing.T) {
	tests := []struct {
		name            string
		ext             bool
		from, to        uint32
		rtrOnly, rtrToo bool
		amr, acr        uint32
	}{
		{"standard single", false, 0x123, 0x123, false, false, 0x000FFFFF, 0x123 << 21},
		{"standard range", false, 0x100, 0x1FF, false, false, 0xFF<<21 | 0xFFFFF, 0x100 << 21},
		{"standard rtr too", false, 0x100, 0x100, false, true, 0x1FFFFF, 0x100 << 21},
		{"standard rtr only", false, 0x100, 0x100, true, false, 0xFFFFF, 0x100<<21 | 0x100000},
		{"extended single", true, 0x1ABCDEF0, 0x1ABCDEF0, false, false, 0x3, 0x1ABCDEF0 << 3},
		{"extended rtr too", true, 0x0, 0xFF, false, true, 0xFF<<3 | 0x7, 0},
		{"extended rtr only", true, 0x10, 0x10, true, false, 0x3, 0x10<<3 | 0x4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateAMR(tt.ext, tt.from, tt.to, tt.rtrOnly, tt.rtrToo); got != tt.amr {
				t.Errorf("AMR 0x%08X, want 0x%08X", got, tt.amr)
			}
			if got := CalculateACR(tt.ext, tt.from, tt.to, tt.rtrOnly, tt.rtrToo); got != tt.acr {
				t.Errorf("ACR 0x%08X, want 0x%08X", got, tt.acr)
			}
		})
	}
}

func TestDefaultChannelConfig(t *testing.T) {
	cfg := DefaultChannelConfig()
	if cfg.AMR != AMRAll || cfg.ACR != ACRAll || cfg.BTR != BTR1MBit || cfg.Mode != ModeNormal {
		t.Errorf("%+v", cfg)
	}
}

func TestSelector(t *testing.T) {
	s := BySerial(1234)
	if sn, ok := s.Serial(); !ok || sn != 1234 {
		t.Errorf("serial %d %v", sn, ok)
	}
	if _, ok := s.Index(); ok {
		t.Error("serial selector reports an index")
	}
	if s.String() != "serial 1234" || ByIndex(AnyModule).String() != "any module" || ByIndex(2).String() != "device 2" {
		t.Error("selector strings")
	}
}

func TestCyclicLock(t *testing.T) {
	if CyclicLock(0) != 0x4 || CyclicLock(15) != 0x20000 {
		t.Errorf("lock bits 0x%X 0x%X", CyclicLock(0), CyclicLock(15))
	}
}
