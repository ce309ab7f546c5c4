package bcm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type fdConn int

func (c fdConn) Write(b []byte) (int, error) { return unix.Write(int(c), b) }
func (c fdConn) Close() error                { return unix.Close(int(c)) }

// Dial opens a broadcast manager socket on the interface with the given
// index.
func Dial(ifindex int) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_DGRAM, unix.CAN_BCM)
	if err != nil {
		return nil, fmt.Errorf("bcm socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrCAN{Ifindex: ifindex}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bcm connect ifindex %d: %w", ifindex, err)
	}
	s := NewSocket(fdConn(fd))
	s.log = s.log.With().Int("ifindex", ifindex).Logger()
	return s, nil
}
