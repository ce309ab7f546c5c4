//go:build linux

package socketcan

import (
	"sync"
	"testing"
	"time"

	"github.com/roffe/canhw"
	"github.com/roffe/canhw/pkg/bcm"
	"golang.org/x/sys/unix"
)

// testUnit opens unit handle 1 with channel 0 bound to one end of a
// socketpair. The other end is returned as the bus.
func testUnit(t *testing.T) (*Driver, canhw.Handle, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET, 0)
	if err != nil {
		t.Fatal(err)
	}
	d := New(nil)
	l := &link{name: "vcan0", index: 4}
	u := &unit{links: []*link{l}, sink: canhw.Discard}
	u.chans[canhw.Channel0] = &channel{link: l, fd: fds[0], opened: time.Now()}
	d.units[1] = u
	t.Cleanup(func() {
		d.DeinitHardware(1)
		unix.Close(fds[1])
	})
	return d, 1, fds[1]
}

func TestReadDefaultTimeout(t *testing.T) {
	d, h, _ := testUnit(t)
	type result struct{ n, code int }
	done := make(chan result, 1)
	go func() {
		n, _, code := d.Read(h, canhw.ChannelAny, make([]canhw.Frame, 4), 0)
		done <- result{n, code}
	}()
	select {
	case r := <-done:
		if r.n != 0 || r.code != CodeNoData {
			t.Errorf("got %d frames, code 0x%02X", r.n, r.code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("read with zero timeout did not return on a quiet bus")
	}
	if code := d.DeinitChannel(h, canhw.Channel0); code != CodeOK {
		t.Errorf("close after read: 0x%02X", code)
	}
}

func TestReadWriteCounters(t *testing.T) {
	d, h, bus := testUnit(t)
	codec := bcm.NativeCodec()
	if _, err := unix.Write(bus, codec.AppendFrame(nil, canhw.NewFrame(0x55, []byte{1, 2}))); err != nil {
		t.Fatal(err)
	}
	buf := make([]canhw.Frame, 4)
	n, from, code := d.Read(h, canhw.Channel0, buf, time.Second)
	if code != CodeOK || n != 1 || from != canhw.Channel0 {
		t.Fatalf("read %d from %s, code 0x%02X", n, from, code)
	}
	if buf[0].Identifier != 0x55 || len(buf[0].Data) != 2 {
		t.Errorf("frame %s", buf[0])
	}

	const writers, each = 4, 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				if n, code := d.Write(h, canhw.Channel0, []canhw.Frame{canhw.NewFrame(0x66, nil)}); n != 1 || code != CodeOK {
					t.Errorf("write %d, code 0x%02X", n, code)
					return
				}
				d.MessageCounts(h, canhw.Channel0)
			}
		}()
	}
	wg.Wait()
	sent, recv, code := d.MessageCounts(h, canhw.Channel0)
	if code != CodeOK || sent != writers*each || recv != 1 {
		t.Errorf("counts sent=%d recv=%d code 0x%02X", sent, recv, code)
	}
	if code := d.ResetChannel(h, canhw.Channel0, canhw.ResetNoRxBufferSys); code != CodeOK {
		t.Fatalf("reset 0x%02X", code)
	}
	if sent, recv, _ := d.MessageCounts(h, canhw.Channel0); sent != 0 || recv != 0 {
		t.Errorf("after reset sent=%d recv=%d", sent, recv)
	}
}

// bcmWire records the broadcast manager messages of one channel.
type bcmWire struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (w *bcmWire) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, append([]byte(nil), b...))
	return len(b), nil
}

func (w *bcmWire) Close() error { return nil }

func (w *bcmWire) take(t *testing.T) []bcm.Header {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []bcm.Header
	for _, m := range w.msgs {
		hd, err := bcm.NativeCodec().Decode(m)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, hd)
	}
	w.msgs = nil
	return out
}

func TestCyclicSchedule(t *testing.T) {
	d, h, _ := testUnit(t)
	w := &bcmWire{}
	dials := 0
	d.dialBCM = func(ifindex int) (*bcm.Socket, error) {
		if ifindex != 4 {
			t.Errorf("dial ifindex %d", ifindex)
		}
		dials++
		return bcm.NewSocket(w), nil
	}
	timers := bcm.SetTimer | bcm.StartTimer
	task := func(period time.Duration, payload byte) canhw.PeriodicTask {
		return canhw.PeriodicTask{
			Channel:          canhw.Channel0,
			Frames:           []canhw.Frame{canhw.NewFrame(0x100, []byte{payload})},
			SubsequentPeriod: period,
		}
	}
	type step struct {
		name string
		run  func() int
		want []bcm.Opcode
		// timers is checked against the last message
		timers bool
	}
	steps := []step{
		{"define", func() int { return d.DefineCyclic(h, canhw.Channel0, task(10*time.Millisecond, 1)) }, nil, false},
		{"start", func() int { return d.EnableCyclic(h, canhw.Channel0, canhw.CyclicStart) }, []bcm.Opcode{bcm.TxSetup}, true},
		{"new payload", func() int { return d.DefineCyclic(h, canhw.Channel0, task(10*time.Millisecond, 2)) }, []bcm.Opcode{bcm.TxSetup}, false},
		{"start again", func() int { return d.EnableCyclic(h, canhw.Channel0, canhw.CyclicStart) }, []bcm.Opcode{bcm.TxSetup}, false},
		{"new period", func() int { return d.DefineCyclic(h, canhw.Channel0, task(20*time.Millisecond, 2)) }, []bcm.Opcode{bcm.TxDelete, bcm.TxSetup}, true},
		{"stop", func() int { return d.EnableCyclic(h, canhw.Channel0, 0) }, []bcm.Opcode{bcm.TxDelete}, false},
		{"stop again", func() int { return d.EnableCyclic(h, canhw.Channel0, 0) }, nil, false},
		{"redefine stopped", func() int { return d.DefineCyclic(h, canhw.Channel0, task(20*time.Millisecond, 3)) }, nil, false},
	}
	for _, s := range steps {
		if code := s.run(); code != CodeOK {
			t.Fatalf("%s: code 0x%02X", s.name, code)
		}
		got := w.take(t)
		if len(got) != len(s.want) {
			t.Fatalf("%s: sent %v, want opcodes %v", s.name, got, s.want)
		}
		for i, op := range s.want {
			if got[i].Opcode != op || got[i].CANID != 0x100 {
				t.Errorf("%s: message %d is %s", s.name, i, got[i])
			}
		}
		if len(got) > 0 {
			last := got[len(got)-1]
			if has := last.Flags&timers == timers; has != s.timers {
				t.Errorf("%s: timer flags in %s", s.name, last)
			}
		}
	}
	if dials != 1 {
		t.Errorf("dialed %d times", dials)
	}
	frames, code := d.ReadCyclic(h, canhw.Channel0)
	if code != CodeOK || len(frames) != 1 || frames[0].Data[0] != 3 {
		t.Errorf("ReadCyclic %v 0x%02X", frames, code)
	}
	if code := d.EnableCyclic(h, canhw.Channel0, canhw.CyclicSequenceMode); code != CodeIllegalParam {
		t.Errorf("sequence mode: 0x%02X", code)
	}
	if code := d.DefineCyclic(h, canhw.Channel0, canhw.PeriodicTask{Channel: canhw.Channel0}); code != CodeOK {
		t.Fatal(code)
	}
	if frames, _ := d.ReadCyclic(h, canhw.Channel0); frames != nil {
		t.Errorf("deleted task still defined: %v", frames)
	}
}
