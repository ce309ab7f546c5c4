//go:build linux

package socketcan

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roffe/canhw"
	"github.com/roffe/canhw/pkg/bcm"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

func init() {
	if err := canhw.RegisterDriver(&canhw.DriverInfo{
		Name:        Name,
		Description: Description,
		New: func(cfg *canhw.DriverConfig) (canhw.Driver, error) {
			return New(cfg), nil
		},
	}); err != nil {
		panic(err)
	}
}

const defaultReadTimeout = 100 * time.Millisecond

// unitSpec names the interfaces that make up one unit, channel 0 first.
type unitSpec struct {
	ifaces []string
}

type channel struct {
	link   *link
	fd     int
	opened time.Time
	sent   atomic.Uint32
	recv   atomic.Uint32
	filter []Filter

	sched *bcm.Socket
	task  *canhw.PeriodicTask
	// live is the task the broadcast manager is transmitting, nil when
	// stopped.
	live *canhw.PeriodicTask
}

type unit struct {
	index int
	spec  unitSpec
	links []*link
	sink  canhw.EventSink
	chans [canhw.MaxChannels]*channel
}

// Driver maps units onto groups of CAN interfaces. Without an explicit
// port list every CAN interface on the host is its own single channel
// unit; with DriverConfig.Port set to "can0,can1" those interfaces form
// unit 0.
type Driver struct {
	cfg *canhw.DriverConfig
	log zerolog.Logger
	// manageLink lets InitChannel take the link down, set its bit rate
	// and bring it back up. It needs CAP_NET_ADMIN.
	manageLink bool

	mu      sync.Mutex
	units   map[canhw.Handle]*unit
	next    canhw.Handle
	codec   *bcm.Codec
	events  canhw.EventSink
	dialBCM func(ifindex int) (*bcm.Socket, error)
}

func New(cfg *canhw.DriverConfig) *Driver {
	if cfg == nil {
		cfg = &canhw.DriverConfig{}
	}
	return &Driver{
		cfg:        cfg,
		log:        canhw.Logger().With().Str("driver", Name).Logger(),
		manageLink: cfg.AdditionalConfig["manage_link"] == "true",
		units:      make(map[canhw.Handle]*unit),
		next:       1,
		codec:      bcm.NativeCodec(),
		dialBCM:    bcm.Dial,
	}
}

func (d *Driver) Name() string                 { return Name }
func (d *Driver) Thresholds() canhw.Thresholds { return canhw.DefaultThresholds }

func (d *Driver) specs() ([]unitSpec, error) {
	if d.cfg.Port != "" {
		var names []string
		for _, n := range strings.Split(d.cfg.Port, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
		if len(names) > canhw.MaxChannels {
			names = names[:canhw.MaxChannels]
		}
		return []unitSpec{{ifaces: names}}, nil
	}
	names, err := canInterfaces()
	if err != nil {
		return nil, err
	}
	out := make([]unitSpec, len(names))
	for i, n := range names {
		out[i] = unitSpec{ifaces: []string{n}}
	}
	return out, nil
}

func (d *Driver) inUse(index int) bool {
	for _, u := range d.units {
		if u.index == index {
			return true
		}
	}
	return false
}

func (d *Driver) InitHardware(sel canhw.Selector, events canhw.EventSink) (canhw.Handle, int) {
	specs, err := d.specs()
	if err != nil {
		d.log.Error().Err(err).Msg("list interfaces")
		return 0, CodeNetlink
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	index := -1
	if n, ok := sel.Index(); ok {
		if n == canhw.AnyModule {
			for i := range specs {
				if !d.inUse(i) {
					index = i
					break
				}
			}
		} else if n < len(specs) {
			index = n
		}
	} else {
		sn, _ := sel.Serial()
		for i, s := range specs {
			if l, err := linkByName(s.ifaces[0]); err == nil && uint32(l.index) == sn {
				index = i
				break
			}
		}
	}
	if index < 0 {
		return 0, CodeNoHardware
	}
	if d.inUse(index) {
		return 0, CodeBusy
	}
	u := &unit{index: index, spec: specs[index], sink: events}
	for _, name := range u.spec.ifaces {
		l, err := linkByName(name)
		if err != nil {
			d.log.Error().Err(err).Str("iface", name).Msg("lookup interface")
			return 0, CodeNoHardware
		}
		u.links = append(u.links, l)
	}
	h := d.next
	d.next++
	d.units[h] = u
	u.sink.Post(canhw.Event{Type: canhw.EventHardwareReady})
	return h, CodeOK
}

func (d *Driver) unit(h canhw.Handle) (*unit, int) {
	u, ok := d.units[h]
	if !ok {
		return nil, CodeIllegalHandle
	}
	return u, CodeOK
}

func (d *Driver) channel(h canhw.Handle, ch canhw.Channel) (*unit, *channel, int) {
	u, code := d.unit(h)
	if code != CodeOK {
		return nil, nil, code
	}
	if !ch.Physical() || int(ch) >= len(u.links) {
		return nil, nil, CodeIllegalChannel
	}
	c := u.chans[ch]
	if c == nil {
		return nil, nil, CodeIllegalChannel
	}
	return u, c, CodeOK
}

func (d *Driver) InitChannel(h canhw.Handle, ch canhw.Channel, cfg canhw.ChannelConfig) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, code := d.unit(h)
	if code != CodeOK {
		return code
	}
	if !ch.Physical() || int(ch) >= len(u.links) {
		return CodeIllegalChannel
	}
	if u.chans[ch] != nil {
		return CodeBusy
	}
	l := u.links[ch]
	if d.manageLink {
		bitrate, ok := bitrateOf(cfg.Bitrate, cfg.BTR, cfg.BaudrateEx)
		if !ok {
			return CodeIllegalParam
		}
		if code := d.reconfigure(l, bitrate, cfg.Mode&canhw.ModeListenOnly != 0); code != CodeOK {
			return code
		}
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		d.log.Error().Err(err).Msg("raw socket")
		return CodeSocket
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: l.index}); err != nil {
		unix.Close(fd)
		d.log.Error().Err(err).Str("iface", l.name).Msg("bind")
		return CodeSocket
	}
	c := &channel{link: l, fd: fd, opened: time.Now()}
	if cfg.Mode&canhw.ModeTxEcho != 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_RECV_OWN_MSGS, 1); err != nil {
			d.log.Warn().Err(err).Msg("enable tx echo")
		}
	}
	if code := c.setFilter(filtersFor(cfg.AMR, cfg.ACR)); code != CodeOK {
		unix.Close(fd)
		return code
	}
	if cfg.TxTimeout > 0 {
		if code := c.setTxTimeout(cfg.TxTimeout); code != CodeOK {
			unix.Close(fd)
			return code
		}
	}
	u.chans[ch] = c
	d.log.Debug().Str("iface", l.name).Str("channel", ch.String()).Msg("channel open")
	u.sink.Post(canhw.Event{Type: canhw.EventChannelReady, Channel: ch})
	return CodeOK
}

func (d *Driver) reconfigure(l *link, bitrate uint32, listenOnly bool) int {
	if err := l.setUp(false); err != nil {
		d.log.Error().Err(err).Msg("link down")
		return CodeNetlink
	}
	if err := l.configure(bitrate, listenOnly); err != nil {
		d.log.Error().Err(err).Msg("link configure")
		return CodeNetlink
	}
	if err := l.setUp(true); err != nil {
		d.log.Error().Err(err).Msg("link up")
		return CodeNetlink
	}
	return CodeOK
}

func (c *channel) setFilter(fs []Filter) int {
	raw := make([]unix.CanFilter, len(fs))
	for i, f := range fs {
		raw[i] = unix.CanFilter{Id: f.ID, Mask: f.Mask}
	}
	if err := unix.SetsockoptCanRawFilter(c.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, raw); err != nil {
		return CodeSocket
	}
	c.filter = fs
	return CodeOK
}

func (c *channel) setTxTimeout(timeout time.Duration) int {
	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(c.fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv); err != nil {
		return CodeSocket
	}
	return CodeOK
}

func (d *Driver) Read(h canhw.Handle, ch canhw.Channel, buf []canhw.Frame, timeout time.Duration) (int, canhw.Channel, int) {
	d.mu.Lock()
	u, code := d.unit(h)
	if code != CodeOK {
		d.mu.Unlock()
		return 0, ch, code
	}
	var (
		fds   []unix.PollFd
		owner []canhw.Channel
	)
	for i, c := range u.chans {
		if c == nil || (ch != canhw.ChannelAny && canhw.Channel(i) != ch) {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(c.fd), Events: unix.POLLIN})
		owner = append(owner, canhw.Channel(i))
	}
	d.mu.Unlock()
	if len(fds) == 0 {
		return 0, ch, CodeIllegalChannel
	}
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	n, err := unix.Poll(fds, int(timeout/time.Millisecond))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, ch, CodeNoData
		}
		return 0, ch, CodeDeviceIO
	}
	if n == 0 {
		return 0, ch, CodeNoData
	}
	for i, pfd := range fds {
		if pfd.Revents&unix.POLLIN == 0 {
			continue
		}
		from := owner[i]
		d.mu.Lock()
		_, c, code := d.channel(h, from)
		d.mu.Unlock()
		if code != CodeOK {
			return 0, from, code
		}
		got, code := d.drain(c, buf)
		if got > 0 {
			u.sink.Post(canhw.Event{Type: canhw.EventMessageReceived, Channel: from})
		}
		return got, from, code
	}
	return 0, ch, CodeDeviceIO
}

// drain reads whatever is queued on the socket without blocking.
func (d *Driver) drain(c *channel, buf []canhw.Frame) (int, int) {
	raw := make([]byte, bcm.CANFrameSize)
	n := 0
	for n < len(buf) {
		m, _, err := unix.Recvfrom(c.fd, raw, unix.MSG_DONTWAIT)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			if n > 0 {
				break
			}
			return 0, CodeDeviceIO
		}
		if m < bcm.CANFrameSize {
			continue
		}
		f, err := d.codec.DecodeFrame(raw)
		if err != nil {
			continue
		}
		f.Timestamp = time.Since(c.opened)
		buf[n] = f
		n++
		c.recv.Add(1)
	}
	if n == 0 {
		return 0, CodeNoData
	}
	return n, CodeOK
}

func (d *Driver) Write(h canhw.Handle, ch canhw.Channel, frames []canhw.Frame) (int, int) {
	d.mu.Lock()
	_, c, code := d.channel(h, ch)
	d.mu.Unlock()
	if code != CodeOK {
		return 0, code
	}
	buf := make([]byte, 0, bcm.CANFrameSize)
	for i, f := range frames {
		buf = d.codec.AppendFrame(buf[:0], f)
		if _, err := unix.Write(c.fd, buf); err != nil {
			if errors.Is(err, unix.ENOBUFS) || errors.Is(err, unix.EAGAIN) {
				return i, CodeTxLimit
			}
			d.log.Error().Err(err).Str("iface", c.link.name).Msg("write")
			return i, CodeDeviceIO
		}
		c.sent.Add(1)
	}
	return len(frames), CodeOK
}

func (d *Driver) DeinitChannel(h canhw.Handle, ch canhw.Channel) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, c, code := d.channel(h, ch)
	if code != CodeOK {
		return code
	}
	if c.sched != nil {
		if err := c.sched.Close(); err != nil {
			d.log.Warn().Err(err).Msg("close bcm socket")
		}
	}
	if err := unix.Close(c.fd); err != nil {
		return CodeSocket
	}
	u.chans[ch] = nil
	u.sink.Post(canhw.Event{Type: canhw.EventChannelClosed, Channel: ch})
	return CodeOK
}

func (d *Driver) DeinitHardware(h canhw.Handle) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, code := d.unit(h)
	if code != CodeOK {
		return code
	}
	for i, c := range u.chans {
		if c == nil {
			continue
		}
		if c.sched != nil {
			c.sched.Close()
		}
		unix.Close(c.fd)
		u.chans[i] = nil
	}
	delete(d.units, h)
	u.sink.Post(canhw.Event{Type: canhw.EventHardwareClosed})
	return CodeOK
}
