package bcm

import (
	"encoding/binary"
	"testing"
)

func TestLayoutFor(t *testing.T) {
	tests := []struct {
		abi                              ABI
		ival1, ival1u, ival2, ival2u     int
		canID, nframes, frameStart, size int
	}{
		{ABI386, 12, 16, 20, 24, 28, 32, 40, 40},
		{ABIARM, 12, 16, 20, 24, 28, 32, 40, 40},
		{ABI64, 16, 24, 32, 40, 48, 52, 56, 56},
	}
	for _, tt := range tests {
		t.Run(tt.abi.Name, func(t *testing.T) {
			l, err := LayoutFor(tt.abi)
			if err != nil {
				t.Fatalf("LayoutFor: %v", err)
			}
			if l.Opcode != 0 || l.Flags != 4 || l.Count != 8 {
				t.Errorf("leading fields at %d/%d/%d, want 0/4/8", l.Opcode, l.Flags, l.Count)
			}
			got := []int{l.Ival1Sec, l.Ival1Usec, l.Ival2Sec, l.Ival2Usec, l.CANID, l.NFrames, l.FrameStart, l.Size}
			want := []int{tt.ival1, tt.ival1u, tt.ival2, tt.ival2u, tt.canID, tt.nframes, tt.frameStart, tt.size}
			for i := range got {
				if got[i] != want[i] {
					t.Errorf("%s: got %v, want %v", l, got, want)
					break
				}
			}
			if l.Size%frameAlign != 0 {
				t.Errorf("size %d not a multiple of %d", l.Size, frameAlign)
			}
		})
	}
}

func TestLayoutForRejectsOddLong(t *testing.T) {
	for _, abi := range []ABI{
		{Name: "long2", LongSize: 2, LongAlign: 2},
		{Name: "align16", LongSize: 8, LongAlign: 16},
		{Name: "align0", LongSize: 4},
	} {
		if _, err := LayoutFor(abi); err == nil {
			t.Errorf("%s: expected error", abi.Name)
		}
	}
}

func TestLayoutForDefaultsByteOrder(t *testing.T) {
	l, err := LayoutFor(ABI{Name: "bare", LongSize: 8, LongAlign: 8})
	if err != nil {
		t.Fatal(err)
	}
	if l.ABI.ByteOrder != binary.LittleEndian {
		t.Errorf("byte order %v", l.ABI.ByteOrder)
	}
}

func TestNativeLayout(t *testing.T) {
	l := NativeLayout()
	switch l.ABI.LongSize {
	case 4:
		if l.Size != 40 {
			t.Errorf("native 32-bit size %d, want 40", l.Size)
		}
	case 8:
		if l.Size != 56 {
			t.Errorf("native 64-bit size %d, want 56", l.Size)
		}
	default:
		t.Errorf("native long size %d", l.ABI.LongSize)
	}
}
