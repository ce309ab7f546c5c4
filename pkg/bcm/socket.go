package bcm

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/roffe/canhw"
	"github.com/rs/zerolog"
)

// Socket sends broadcast manager messages for the transmit jobs of one
// interface. Every job is keyed by the CAN id of its first frame.
type Socket struct {
	conn  io.WriteCloser
	codec *Codec
	log   zerolog.Logger

	mu   sync.Mutex
	jobs map[uint32]canhw.PeriodicTask
}

// NewSocket wraps conn, which receives one complete message per Write in
// the host layout.
func NewSocket(conn io.WriteCloser) *Socket {
	return &Socket{
		conn:  conn,
		codec: NativeCodec(),
		log:   canhw.Logger().With().Str("component", "bcm").Logger(),
		jobs:  make(map[uint32]canhw.PeriodicTask),
	}
}

func (s *Socket) send(h Header, frames ...canhw.Frame) error {
	msg, err := s.codec.Message(h, frames...)
	if err != nil {
		return err
	}
	n, err := s.conn.Write(msg)
	if err != nil {
		return fmt.Errorf("bcm %s: %w", h.Opcode, err)
	}
	if n != len(msg) {
		return fmt.Errorf("bcm %s: short write %d/%d", h.Opcode, n, len(msg))
	}
	s.log.Trace().Str("head", h.String()).Msg("sent")
	return nil
}

// Setup starts transmitting task. A running job with the same id is
// replaced and its timers restart.
func (s *Socket) Setup(task canhw.PeriodicTask) error {
	h, err := TaskHeader(task, 0)
	if err != nil {
		return err
	}
	if err := s.send(h, task.Frames...); err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs[h.CANID] = task
	s.mu.Unlock()
	return nil
}

// Update swaps the payload of a running job without restarting its timers.
func (s *Socket) Update(frames ...canhw.Frame) error {
	if len(frames) == 0 {
		return errors.New("bcm update: no frames")
	}
	h := UpdateHeader(CANID(frames[0]), 0)
	if err := s.send(h, frames...); err != nil {
		return err
	}
	s.mu.Lock()
	if t, ok := s.jobs[h.CANID]; ok {
		t.Frames = frames
		s.jobs[h.CANID] = t
	}
	s.mu.Unlock()
	return nil
}

// Delete stops the job with the given CAN id.
func (s *Socket) Delete(canID uint32) error {
	if err := s.send(DeleteHeader(canID, 0)); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.jobs, canID)
	s.mu.Unlock()
	return nil
}

// DeleteAll stops every job started through this socket.
func (s *Socket) DeleteAll() error {
	s.mu.Lock()
	ids := make([]uint32, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		if err := s.Delete(id); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the connection. The kernel drops all of its jobs.
func (s *Socket) Close() error {
	s.mu.Lock()
	s.jobs = make(map[uint32]canhw.PeriodicTask)
	s.mu.Unlock()
	return s.conn.Close()
}
