package canhw_test

import (
	"errors"
	"testing"
	"time"

	"github.com/roffe/canhw"
	"github.com/roffe/canhw/internal/mock"
)

// basic hides every optional capability of the wrapped driver.
type basic struct{ canhw.Driver }

func openMock(t *testing.T, channels ...canhw.Channel) (*canhw.Device, *mock.Driver) {
	t.Helper()
	drv := mock.New()
	dev := canhw.NewDevice(drv)
	if err := dev.OpenHardware(canhw.ByIndex(0)); err != nil {
		t.Fatalf("OpenHardware: %v", err)
	}
	for _, ch := range channels {
		if err := dev.OpenChannel(ch, canhw.DefaultChannelConfig()); err != nil {
			t.Fatalf("OpenChannel(%s): %v", ch, err)
		}
	}
	return dev, drv
}

func TestWriteBeforeOpenChannel(t *testing.T) {
	dev, drv := openMock(t)
	drv.ResetCalls()
	_, err := dev.Write(canhw.Channel0, canhw.NewFrame(0x100, nil))
	if !errors.Is(err, canhw.ErrNotInitialized) {
		t.Fatalf("got %v, want ErrNotInitialized", err)
	}
	if _, _, err := dev.Read(canhw.ChannelAny, 1, 0); !errors.Is(err, canhw.ErrNotInitialized) {
		t.Errorf("read any: %v", err)
	}
	if len(drv.Calls()) != 0 {
		t.Errorf("driver called: %v", drv.Calls())
	}
}

func TestOperationsBeforeOpenHardware(t *testing.T) {
	drv := mock.New()
	dev := canhw.NewDevice(drv)
	checks := map[string]error{}
	checks["OpenChannel"] = dev.OpenChannel(canhw.Channel0, canhw.DefaultChannelConfig())
	_, checks["Write"] = dev.Write(canhw.Channel0, canhw.NewFrame(1, nil))
	_, _, checks["Read"] = dev.Read(canhw.Channel0, 1, 0)
	_, checks["Status"] = dev.Status(canhw.Channel0)
	_, checks["HardwareInfo"] = dev.HardwareInfo()
	for name, err := range checks {
		if !errors.Is(err, canhw.ErrNotInitialized) {
			t.Errorf("%s: got %v", name, err)
		}
	}
	if len(drv.Calls()) != 0 {
		t.Errorf("driver called: %v", drv.Calls())
	}
	if dev.State() != canhw.Unopened {
		t.Errorf("state %s", dev.State())
	}
}

func TestOpenHardwareTwice(t *testing.T) {
	dev, drv := openMock(t)
	if err := dev.OpenHardware(canhw.ByIndex(0)); err != nil {
		t.Fatalf("second OpenHardware: %v", err)
	}
	if n := drv.Count("InitHardware"); n != 1 {
		t.Errorf("InitHardware called %d times", n)
	}
	if dev.State() != canhw.HardwareReady {
		t.Errorf("state %s", dev.State())
	}
}

func TestOpenChannelTwice(t *testing.T) {
	dev, drv := openMock(t, canhw.Channel0)
	if err := dev.OpenChannel(canhw.Channel0, canhw.DefaultChannelConfig()); err != nil {
		t.Fatal(err)
	}
	if n := drv.Count("InitChannel"); n != 1 {
		t.Errorf("InitChannel called %d times", n)
	}
}

func TestOpenChannelInvalid(t *testing.T) {
	dev, drv := openMock(t)
	for _, ch := range []canhw.Channel{canhw.ChannelAll, canhw.ChannelAny, 2} {
		if err := dev.OpenChannel(ch, canhw.DefaultChannelConfig()); !errors.Is(err, canhw.ErrInvalidChannel) {
			t.Errorf("%s: got %v", ch, err)
		}
	}
	if drv.Count("InitChannel") != 0 {
		t.Error("driver called for invalid channel")
	}
}

func TestCloseHardwareChannelsStillOpen(t *testing.T) {
	dev, drv := openMock(t, canhw.Channel0)
	drv.ResetCalls()
	err := dev.CloseHardware(false)
	if !errors.Is(err, canhw.ErrChannelsStillOpen) {
		t.Fatalf("got %v", err)
	}
	if dev.State() != canhw.HardwareReady || !dev.ChannelReady(canhw.Channel0) {
		t.Errorf("state changed: %s, ch0 ready %v", dev.State(), dev.ChannelReady(canhw.Channel0))
	}
	if len(drv.Calls()) != 0 {
		t.Errorf("driver called: %v", drv.Calls())
	}
}

func TestCloseHardwareCascade(t *testing.T) {
	dev, drv := openMock(t, canhw.Channel0, canhw.Channel1)
	drv.ResetCalls()
	if err := dev.CloseHardware(true); err != nil {
		t.Fatal(err)
	}
	calls := drv.Calls()
	want := []string{"DeinitChannel", "DeinitChannel", "DeinitHardware"}
	if len(calls) != len(want) {
		t.Fatalf("calls %v", calls)
	}
	for i, w := range want {
		if calls[i].Method != w {
			t.Errorf("call %d: %s, want %s", i, calls[i].Method, w)
		}
	}
	if dev.State() != canhw.Closed {
		t.Errorf("state %s", dev.State())
	}
	if dev.ChannelReady(canhw.Channel0) || dev.ChannelReady(canhw.Channel1) {
		t.Error("channel still ready after close")
	}
}

func TestClosedDevice(t *testing.T) {
	dev, drv := openMock(t, canhw.Channel0)
	if err := dev.CloseHardware(true); err != nil {
		t.Fatal(err)
	}
	drv.ResetCalls()
	errs := []error{
		dev.OpenHardware(canhw.ByIndex(0)),
		dev.OpenChannel(canhw.Channel0, canhw.DefaultChannelConfig()),
		dev.CloseChannel(canhw.Channel0),
		dev.CloseHardware(true),
	}
	_, err := dev.Write(canhw.Channel0, canhw.NewFrame(1, nil))
	errs = append(errs, err)
	_, _, err = dev.Read(canhw.Channel0, 1, 0)
	errs = append(errs, err)
	for i, err := range errs {
		if !errors.Is(err, canhw.ErrClosed) {
			t.Errorf("op %d: got %v", i, err)
		}
	}
	if len(drv.Calls()) != 0 {
		t.Errorf("driver called: %v", drv.Calls())
	}
}

func TestCloseUnopened(t *testing.T) {
	drv := mock.New()
	dev := canhw.NewDevice(drv)
	if err := dev.CloseHardware(false); err != nil {
		t.Fatal(err)
	}
	if dev.State() != canhw.Closed || len(drv.Calls()) != 0 {
		t.Errorf("state %s, calls %v", dev.State(), drv.Calls())
	}
}

func TestCloseChannel(t *testing.T) {
	dev, drv := openMock(t, canhw.Channel0)
	if err := dev.CloseChannel(canhw.Channel1); err != nil {
		t.Errorf("closing a channel that is not ready: %v", err)
	}
	if drv.Count("DeinitChannel") != 0 {
		t.Error("driver called for channel that is not ready")
	}
	if err := dev.CloseChannel(canhw.ChannelAll); err != nil {
		t.Fatal(err)
	}
	if dev.ChannelReady(canhw.Channel0) || drv.Count("DeinitChannel") != 1 {
		t.Error("ChannelAll did not close ch0")
	}
	if err := dev.CloseHardware(false); err != nil {
		t.Errorf("close after channels closed: %v", err)
	}
}

func TestFailedDriverCalls(t *testing.T) {
	drv := mock.New()
	drv.SetCode("InitHardware", 0x05)
	dev := canhw.NewDevice(drv)
	err := dev.OpenHardware(canhw.ByIndex(0))
	var de *canhw.DriverError
	if !errors.As(err, &de) || de.Code != 0x05 || de.Func != "InitHardware" {
		t.Fatalf("got %v", err)
	}
	if dev.State() != canhw.Unopened {
		t.Errorf("state %s", dev.State())
	}

	drv.SetCode("InitHardware", 0)
	drv.SetCode("InitChannel", 0x47)
	if err := dev.OpenHardware(canhw.ByIndex(0)); err != nil {
		t.Fatal(err)
	}
	err = dev.OpenChannel(canhw.Channel0, canhw.DefaultChannelConfig())
	if !errors.Is(err, canhw.ErrDeviceTier) {
		t.Fatalf("got %v", err)
	}
	if dev.ChannelReady(canhw.Channel0) {
		t.Error("channel ready after failed init")
	}

	drv.SetCode("InitChannel", 0)
	drv.SetCode("DeinitHardware", 0x0A)
	if err := dev.OpenChannel(canhw.Channel0, canhw.DefaultChannelConfig()); err != nil {
		t.Fatal(err)
	}
	if err := dev.CloseHardware(true); !errors.Is(err, canhw.ErrDriverTier) {
		t.Fatalf("got %v", err)
	}
	if dev.State() != canhw.HardwareReady {
		t.Errorf("state after failed close %s", dev.State())
	}
}

func TestWarningsNotRaised(t *testing.T) {
	dev, drv := openMock(t, canhw.Channel0)
	drv.SetCode("Write", 0x91)
	drv.SetTxLimit(1)
	n, err := dev.Write(canhw.Channel0, canhw.NewFrame(1, nil), canhw.NewFrame(2, nil))
	if err != nil || n != 1 {
		t.Errorf("Write = %d, %v", n, err)
	}
	drv.SetCode("Status", 0x85)
	if _, err := dev.Status(canhw.Channel0); err != nil {
		t.Errorf("Status warning raised: %v", err)
	}
}

func TestReadWrite(t *testing.T) {
	dev, drv := openMock(t, canhw.Channel0, canhw.Channel1)

	frames, _, err := dev.Read(canhw.Channel0, 4, 0)
	if err != nil || frames != nil {
		t.Fatalf("empty read = %v, %v", frames, err)
	}

	drv.Queue(canhw.Channel1, canhw.NewFrame(0x10, []byte{1}), canhw.NewFrame(0x11, []byte{2}))
	frames, from, err := dev.Read(canhw.ChannelAny, 0, time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	if from != canhw.Channel1 || len(frames) != 2 || frames[1].Identifier != 0x11 {
		t.Errorf("read %v from %s", frames, from)
	}

	if _, err := dev.Write(canhw.Channel0, canhw.NewFrame(0x800, nil)); !errors.Is(err, canhw.ErrInvalidID) {
		t.Errorf("oversized id: %v", err)
	}
	if _, err := dev.Write(canhw.Channel0, canhw.Frame{Identifier: 1, Data: make([]byte, 9)}); !errors.Is(err, canhw.ErrInvalidFrame) {
		t.Errorf("oversized payload: %v", err)
	}
	if drv.Count("Write") != 0 {
		t.Error("invalid frames reached the driver")
	}
	if _, err := dev.Write(canhw.ChannelAny, canhw.NewFrame(1, nil)); !errors.Is(err, canhw.ErrInvalidChannel) {
		t.Errorf("write to any: %v", err)
	}
	n, err := dev.Write(canhw.Channel0, canhw.NewFrame(0x7FF, []byte{1, 2, 3}))
	if err != nil || n != 1 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if w := drv.Written(canhw.Channel0); len(w) != 1 || w[0].Identifier != 0x7FF {
		t.Errorf("written %v", w)
	}
}

func TestReadBufferOption(t *testing.T) {
	drv := mock.New()
	dev := canhw.NewDevice(drv, canhw.WithReadBuffer(3))
	if err := dev.OpenHardware(canhw.ByIndex(0)); err != nil {
		t.Fatal(err)
	}
	if err := dev.OpenChannel(canhw.Channel0, canhw.DefaultChannelConfig()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		drv.Queue(canhw.Channel0, canhw.NewFrame(uint32(i), nil))
	}
	frames, _, err := dev.Read(canhw.Channel0, 0, 0)
	if err != nil || len(frames) != 3 {
		t.Errorf("read %d frames, %v", len(frames), err)
	}
}

func TestCustomThresholds(t *testing.T) {
	drv := mock.New()
	drv.SetCode("InitHardware", 0x80)
	dev := canhw.NewDevice(drv, canhw.WithThresholds(canhw.Thresholds{Success: 0, ErrCmd: 0x40, Warning: 0x100, NoData: 0x100}))
	if err := dev.OpenHardware(canhw.ByIndex(0)); !errors.Is(err, canhw.ErrDeviceTier) {
		t.Errorf("got %v", err)
	}
}

func TestDeviceOperations(t *testing.T) {
	dev, drv := openMock(t, canhw.Channel0)
	drv.SetStatus(canhw.Channel0, canhw.ChannelStatus{CAN: canhw.CANStatusBUSOFF})
	st, err := dev.Status(canhw.Channel0)
	if err != nil || st.CAN != canhw.CANStatusBUSOFF {
		t.Errorf("status %s, %v", st, err)
	}
	ops := map[string]func() error{
		"ResetChannel":  func() error { return dev.ResetChannel(canhw.Channel0, canhw.ResetAll) },
		"SetBaudrate":   func() error { return dev.SetBaudrate(canhw.Channel0, 0x031C, 0) },
		"SetAcceptance": func() error { return dev.SetAcceptance(canhw.Channel0, canhw.AMRAll, canhw.ACRAll) },
		"SetTxTimeout":  func() error { return dev.SetTxTimeout(canhw.Channel0, time.Second) },
		"ErrorCounters": func() error { _, _, err := dev.ErrorCounters(canhw.Channel0); return err },
		"MessageCounts": func() error { _, _, err := dev.MessageCounts(canhw.Channel0); return err },
		"Pending":       func() error { _, err := dev.Pending(canhw.Channel0, canhw.PendingAll); return err },
	}
	for name, op := range ops {
		if err := op(); err != nil {
			t.Errorf("%s: %v", name, err)
		}
		if drv.Count(name) != 1 {
			t.Errorf("%s reached driver %d times", name, drv.Count(name))
		}
	}
	drv.ResetCalls()
	if err := dev.SetBaudrate(canhw.Channel1, 0x031C, 0); !errors.Is(err, canhw.ErrNotInitialized) {
		t.Errorf("closed channel: %v", err)
	}
	if len(drv.Calls()) != 0 {
		t.Error("driver called for closed channel")
	}
}

func TestNotSupported(t *testing.T) {
	drv := mock.New()
	dev := canhw.NewDevice(basic{drv})
	if err := dev.OpenHardware(canhw.ByIndex(0)); err != nil {
		t.Fatal(err)
	}
	if err := dev.OpenChannel(canhw.Channel0, canhw.DefaultChannelConfig()); err != nil {
		t.Fatal(err)
	}
	errs := map[string]error{}
	_, errs["Status"] = dev.Status(canhw.Channel0)
	_, errs["HardwareInfo"] = dev.HardwareInfo()
	errs["ResetChannel"] = dev.ResetChannel(canhw.Channel0, canhw.ResetAll)
	errs["DefineCyclic"] = dev.DefineCyclic(canhw.PeriodicTask{Channel: canhw.Channel0})
	_, errs["Pending"] = dev.Pending(canhw.Channel0, canhw.PendingAll)
	for name, err := range errs {
		if !errors.Is(err, canhw.ErrNotSupported) {
			t.Errorf("%s: got %v", name, err)
		}
	}
	if _, err := canhw.NewEnumeration(basic{drv}); !errors.Is(err, canhw.ErrNotSupported) {
		t.Errorf("enumeration: %v", err)
	}
}

func TestCyclicTasks(t *testing.T) {
	dev, drv := openMock(t, canhw.Channel0)
	task := canhw.PeriodicTask{
		Channel:          canhw.Channel0,
		Frames:           []canhw.Frame{canhw.NewFrame(0x100, []byte{1})},
		InitialPeriod:    10 * time.Millisecond,
		SubsequentPeriod: 100 * time.Millisecond,
		Count:            5,
	}
	if err := dev.DefineCyclic(task); err != nil {
		t.Fatal(err)
	}
	if drv.Count("EnableCyclic") != 0 {
		t.Error("disabled task started")
	}
	if err := dev.EnableCyclic(canhw.Channel0, canhw.CyclicStart|canhw.CyclicNoEcho); err != nil {
		t.Fatal(err)
	}
	got, ok := dev.Task(canhw.Channel0)
	if !ok || !got.Enabled || got.Count != 5 {
		t.Errorf("task %+v", got)
	}
	frames, err := dev.ReadCyclic(canhw.Channel0)
	if err != nil || len(frames) != 1 {
		t.Errorf("ReadCyclic %v %v", frames, err)
	}

	if err := dev.CloseChannel(canhw.Channel0); err != nil {
		t.Fatal(err)
	}
	if _, ok := dev.Task(canhw.Channel0); ok {
		t.Error("task survived channel close")
	}
}

func TestCyclicEnableFailureKeepsTask(t *testing.T) {
	dev, drv := openMock(t, canhw.Channel0)
	drv.SetCode("EnableCyclic", 0x05)
	err := dev.DefineCyclic(canhw.PeriodicTask{
		Channel:          canhw.Channel0,
		Frames:           []canhw.Frame{canhw.NewFrame(0x200, []byte{2})},
		SubsequentPeriod: 50 * time.Millisecond,
		Enabled:          true,
	})
	if !errors.Is(err, canhw.ErrDriverTier) {
		t.Fatalf("got %v", err)
	}
	got, ok := dev.Task(canhw.Channel0)
	if !ok {
		t.Fatal("defined task forgotten after enable failed")
	}
	if got.Enabled || len(got.Frames) != 1 {
		t.Errorf("task %+v", got)
	}

	drv.SetCode("EnableCyclic", 0)
	if err := dev.EnableCyclic(canhw.Channel0, canhw.CyclicStart); err != nil {
		t.Fatal(err)
	}
	if got, _ := dev.Task(canhw.Channel0); !got.Enabled {
		t.Error("task not marked enabled")
	}
}

func TestCyclicValidation(t *testing.T) {
	dev, drv := openMock(t, canhw.Channel0)
	tests := []struct {
		name string
		task canhw.PeriodicTask
		want error
	}{
		{"too many frames", canhw.PeriodicTask{Channel: canhw.Channel0, Frames: make([]canhw.Frame, canhw.MaxCyclicFrames+1)}, canhw.ErrTooManyFrames},
		{"negative period", canhw.PeriodicTask{Channel: canhw.Channel0, SubsequentPeriod: -time.Second}, canhw.ErrInvalidPeriod},
		{"bad channel", canhw.PeriodicTask{Channel: canhw.ChannelAny}, canhw.ErrInvalidChannel},
		{"bad frame", canhw.PeriodicTask{Channel: canhw.Channel0, Frames: []canhw.Frame{{Identifier: 0xFFFF}}}, canhw.ErrInvalidID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := dev.DefineCyclic(tt.task); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
	if drv.Count("DefineCyclic") != 0 {
		t.Error("invalid task reached driver")
	}
}

func TestCyclicFirmwareGate(t *testing.T) {
	dev, drv := openMock(t, canhw.Channel0)
	drv.SetHardware(canhw.HardwareInfo{Firmware: canhw.NewFirmwareVersion(3, 5, 99), Channels: 2})
	err := dev.DefineCyclic(canhw.PeriodicTask{Channel: canhw.Channel0, Frames: []canhw.Frame{canhw.NewFrame(1, nil)}})
	if !errors.Is(err, canhw.ErrNotSupported) {
		t.Errorf("got %v", err)
	}
	if drv.Count("DefineCyclic") != 0 {
		t.Error("driver called on old firmware")
	}
}

func TestMatchesHandle(t *testing.T) {
	dev, _ := openMock(t)
	if !dev.MatchesHandle(1) || dev.MatchesHandle(2) {
		t.Error("handle mismatch")
	}
	dev.CloseHardware(true)
	if dev.MatchesHandle(1) {
		t.Error("closed device matches handle")
	}
}
