package bcm

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/roffe/canhw"
)

// wire records every message written to it.
type wire struct {
	mu     sync.Mutex
	msgs   [][]byte
	err    error
	closed bool
}

func (w *wire) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return 0, w.err
	}
	w.msgs = append(w.msgs, append([]byte(nil), b...))
	return len(b), nil
}

func (w *wire) Close() error {
	w.closed = true
	return nil
}

// heads decodes and clears the recorded messages.
func (w *wire) heads(t *testing.T) []Header {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Header
	for _, m := range w.msgs {
		h, err := NativeCodec().Decode(m)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, h)
	}
	w.msgs = nil
	return out
}

func TestSocketSetupUpdateDelete(t *testing.T) {
	w := &wire{}
	s := NewSocket(w)
	task := canhw.PeriodicTask{
		Frames:           []canhw.Frame{canhw.NewFrame(0x321, []byte{1}), canhw.NewFrame(0x321, []byte{2})},
		SubsequentPeriod: 20 * time.Millisecond,
	}
	if err := s.Setup(task); err != nil {
		t.Fatal(err)
	}
	hs := w.heads(t)
	if len(hs) != 1 || hs[0].Opcode != TxSetup || hs[0].Flags&(SetTimer|StartTimer) != SetTimer|StartTimer {
		t.Fatalf("setup %v", hs)
	}
	if hs[0].CANID != 0x321 || hs[0].NFrames != 2 || hs[0].Interval() != 20*time.Millisecond {
		t.Errorf("setup head %s", hs[0])
	}

	if err := s.Update(canhw.NewFrame(0x321, []byte{3}), canhw.NewFrame(0x321, []byte{4})); err != nil {
		t.Fatal(err)
	}
	hs = w.heads(t)
	if len(hs) != 1 || hs[0].Opcode != TxSetup || hs[0].Flags&(SetTimer|StartTimer) != 0 {
		t.Fatalf("update %v", hs)
	}

	if err := s.DeleteAll(); err != nil {
		t.Fatal(err)
	}
	hs = w.heads(t)
	if len(hs) != 1 || hs[0].Opcode != TxDelete || hs[0].CANID != 0x321 {
		t.Fatalf("delete %v", hs)
	}
	if err := s.DeleteAll(); err != nil {
		t.Fatal(err)
	}
	if hs := w.heads(t); len(hs) != 0 {
		t.Errorf("second delete sent %v", hs)
	}
	if err := s.Close(); err != nil || !w.closed {
		t.Errorf("close %v", err)
	}
}

func TestSocketWriteError(t *testing.T) {
	boom := errors.New("boom")
	s := NewSocket(&wire{err: boom})
	err := s.Setup(canhw.PeriodicTask{Frames: []canhw.Frame{canhw.NewFrame(1, nil)}, SubsequentPeriod: time.Second})
	if !errors.Is(err, boom) {
		t.Errorf("got %v", err)
	}
	if err := s.Update(); err == nil {
		t.Error("update without frames accepted")
	}
}
