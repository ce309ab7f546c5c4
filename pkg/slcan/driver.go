package slcan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/roffe/canhw"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
	"go.uber.org/ratelimit"
	"golang.org/x/mod/semver"
)

const (
	CodeOK             = 0x00
	CodeIllegalHandle  = 0x01
	CodeIllegalChannel = 0x02
	CodeIllegalParam   = 0x03
	CodeBusy           = 0x04
	CodePort           = 0x05
	CodeTimeout        = 0x06
	CodeNoHardware     = 0x07
	CodeDeviceIO       = 0x40
	CodeCommand        = 0x41
	CodeFirmware       = 0x42
	CodeNoData         = 0x80
	CodeTxLimit        = 0x91
)

const (
	Name        = "slcan"
	Description = "Lawicel SLCAN serial adapter"

	defaultPortBaudrate = 115200
	defaultReadTimeout  = 100 * time.Millisecond
	commandTimeout      = 500 * time.Millisecond
	rxQueue             = 1024
)

func init() {
	if err := canhw.RegisterDriver(&canhw.DriverInfo{
		Name:               Name,
		Description:        Description,
		RequiresSerialPort: true,
		New: func(cfg *canhw.DriverConfig) (canhw.Driver, error) {
			return New(cfg), nil
		},
	}); err != nil {
		panic(err)
	}
}

// Port is the part of serial.Port the driver uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

// Opener opens a serial port. It is swapped out in tests.
type Opener func(name string, mode *serial.Mode) (Port, error)

func openSerial(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// PortLister lists candidate serial ports for enumeration.
type PortLister func() ([]string, error)

// Driver talks to a single SLCAN adapter; the adapter exposes one channel.
type Driver struct {
	cfg    *canhw.DriverConfig
	log    zerolog.Logger
	open   Opener
	ports  PortLister
	txRate int

	mu   sync.Mutex
	unit *unit
}

type unit struct {
	name    string
	port    Port
	sink    canhw.EventSink
	log     zerolog.Logger
	fw      canhw.FirmwareVersion
	serial  uint32
	limiter ratelimit.Limiter

	rx      chan canhw.Frame
	replies chan []byte
	cmdMu   sync.Mutex
	writeMu sync.Mutex

	channelOpen atomic.Bool
	listenOnly  bool
	sent        atomic.Uint32
	recv        atomic.Uint32
	dropped     atomic.Uint64

	closing atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option tweaks a Driver.
type Option func(*Driver)

func WithOpener(o Opener) Option { return func(d *Driver) { d.open = o } }

func WithPortLister(l PortLister) Option { return func(d *Driver) { d.ports = l } }

func New(cfg *canhw.DriverConfig, opts ...Option) *Driver {
	if cfg == nil {
		cfg = &canhw.DriverConfig{}
	}
	d := &Driver{
		cfg:    cfg,
		log:    canhw.Logger().With().Str("driver", Name).Logger(),
		open:   openSerial,
		ports:  serial.GetPortsList,
		txRate: 1000,
	}
	if v, err := strconv.Atoi(cfg.AdditionalConfig["tx_rate"]); err == nil && v > 0 {
		d.txRate = v
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Driver) Name() string                 { return Name }
func (d *Driver) Thresholds() canhw.Thresholds { return canhw.DefaultThresholds }

func (d *Driver) portName(sel canhw.Selector) (string, int) {
	n, byIndex := sel.Index()
	if d.cfg.Port != "" {
		if byIndex && n != 0 && n != canhw.AnyModule {
			return "", CodeNoHardware
		}
		return d.cfg.Port, CodeOK
	}
	ports, err := d.ports()
	if err != nil || len(ports) == 0 {
		return "", CodeNoHardware
	}
	if !byIndex || n == canhw.AnyModule {
		return ports[0], CodeOK
	}
	if n >= len(ports) {
		return "", CodeNoHardware
	}
	return ports[n], CodeOK
}

func (d *Driver) InitHardware(sel canhw.Selector, events canhw.EventSink) (canhw.Handle, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unit != nil {
		return 0, CodeBusy
	}
	name, code := d.portName(sel)
	if code != CodeOK {
		return 0, code
	}
	baud := d.cfg.PortBaudrate
	if baud == 0 {
		baud = defaultPortBaudrate
	}
	p, err := d.open(name, &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		d.log.Error().Err(err).Str("port", name).Msg("failed to open com port")
		return 0, CodePort
	}
	p.SetReadTimeout(3 * time.Millisecond)
	p.ResetOutputBuffer()
	p.ResetInputBuffer()

	u := &unit{
		name:    name,
		port:    p,
		sink:    events,
		log:     d.log.With().Str("port", name).Logger(),
		limiter: ratelimit.New(d.txRate),
		rx:      make(chan canhw.Frame, rxQueue),
		replies: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
	u.wg.Add(1)
	go u.recvManager()

	// Leave any channel a previous session left open; the reply is
	// irrelevant.
	u.command("C")
	if code := u.identify(); code != CodeOK {
		u.shutdown()
		return 0, code
	}
	if want := d.cfg.MinimumFirmwareVersion; want != "" && semver.IsValid(want) {
		if semver.Compare(u.fw.Semver(), want) < 0 {
			u.log.Error().Str("have", u.fw.Semver()).Str("want", want).Msg("firmware too old")
			u.shutdown()
			return 0, CodeFirmware
		}
	}
	if sn, bySerial := sel.Serial(); bySerial && sn != u.serial {
		u.shutdown()
		return 0, CodeNoHardware
	}
	d.unit = u
	u.sink.Post(canhw.Event{Type: canhw.EventHardwareReady})
	return 1, CodeOK
}

// identify reads the version and serial number, retrying because some
// adapters drop the first command after the port opens.
func (u *unit) identify() int {
	err := retry.Do(func() error {
		line, err := u.command("V")
		if err != nil {
			return err
		}
		fw, err := decodeVersion(line)
		if err != nil {
			return err
		}
		u.fw = fw
		return nil
	},
		retry.Attempts(3),
		retry.Delay(20*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			u.log.Debug().Err(err).Uint("attempt", n).Msg("retry version")
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		u.log.Error().Err(err).Msg("identify adapter")
		return CodeTimeout
	}
	if line, err := u.command("N"); err == nil {
		if sn, err := decodeSerial(line); err == nil {
			u.serial = sn
		}
	}
	return CodeOK
}

var errNack = errors.New("slcan: command rejected")

// command sends cmd and waits for the adapter's reply line. An empty reply
// is a plain acknowledge.
func (u *unit) command(cmd string) ([]byte, error) {
	u.cmdMu.Lock()
	defer u.cmdMu.Unlock()
	for {
		select {
		case <-u.replies:
			continue
		default:
		}
		break
	}
	if err := u.write([]byte(cmd + "\r")); err != nil {
		return nil, err
	}
	select {
	case line := <-u.replies:
		if len(line) == 1 && line[0] == '\a' {
			return nil, fmt.Errorf("%w: %s", errNack, cmd)
		}
		return line, nil
	case <-time.After(commandTimeout):
		return nil, fmt.Errorf("slcan: %s: no reply within %s", cmd, commandTimeout)
	case <-u.done:
		return nil, canhw.ErrClosed
	}
}

func (u *unit) commands(cmds ...string) int {
	for _, c := range cmds {
		if _, err := u.command(c); err != nil {
			u.log.Error().Err(err).Msg("command")
			if errors.Is(err, errNack) {
				return CodeCommand
			}
			return CodeTimeout
		}
	}
	return CodeOK
}

func (u *unit) write(b []byte) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	if _, err := u.port.Write(b); err != nil {
		return fmt.Errorf("failed to write to com port: %w", err)
	}
	return nil
}

func (u *unit) recvManager() {
	defer u.wg.Done()
	buf := make([]byte, 0, 64)
	readBuf := make([]byte, 64)
	for {
		select {
		case <-u.done:
			return
		default:
		}
		n, err := u.port.Read(readBuf)
		if err != nil {
			if !u.closing.Load() {
				u.sink.Post(canhw.Event{Type: canhw.EventError, Err: fmt.Errorf("failed to read com port: %w", err)})
			}
			return
		}
		if n == 0 {
			continue
		}
		buf = u.parse(buf, readBuf[:n])
	}
}

// parse consumes bytes and returns the unfinished tail.
func (u *unit) parse(buf, in []byte) []byte {
	for _, b := range in {
		switch b {
		case '\a':
			u.reply([]byte{'\a'})
			buf = buf[:0]
		case '\r':
			u.handleLine(buf)
			buf = buf[:0]
		default:
			buf = append(buf, b)
		}
	}
	return buf
}

func (u *unit) handleLine(line []byte) {
	if len(line) > 0 {
		switch line[0] {
		case 't', 'T', 'r', 'R':
			f, err := DecodeFrame(line)
			if err != nil {
				u.log.Warn().Err(err).Str("line", string(line)).Msg("bad frame")
				return
			}
			u.deliver(f)
			return
		case 'z', 'Z':
			// transmit acknowledge
			return
		}
	}
	u.reply(bytes.Clone(line))
}

func (u *unit) deliver(f canhw.Frame) {
	wasEmpty := len(u.rx) == 0
	select {
	case u.rx <- f:
		u.recv.Add(1)
		if wasEmpty {
			u.sink.Post(canhw.Event{Type: canhw.EventMessageReceived, Channel: canhw.Channel0})
		}
	default:
		if u.dropped.Add(1)%100 == 1 {
			u.log.Warn().Uint64("dropped", u.dropped.Load()).Msg("receive queue full")
		}
	}
}

func (u *unit) reply(line []byte) {
	select {
	case u.replies <- line:
	default:
	}
}

func (u *unit) shutdown() error {
	u.closing.Store(true)
	close(u.done)
	err := u.port.Close()
	u.wg.Wait()
	return err
}

func (d *Driver) get(h canhw.Handle) (*unit, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h != 1 || d.unit == nil {
		return nil, CodeIllegalHandle
	}
	return d.unit, CodeOK
}

func (d *Driver) openChannel(h canhw.Handle, ch canhw.Channel) (*unit, int) {
	u, code := d.get(h)
	if code != CodeOK {
		return nil, code
	}
	if ch != canhw.Channel0 || !u.channelOpen.Load() {
		return nil, CodeIllegalChannel
	}
	return u, CodeOK
}

func (d *Driver) InitChannel(h canhw.Handle, ch canhw.Channel, cfg canhw.ChannelConfig) int {
	u, code := d.get(h)
	if code != CodeOK {
		return code
	}
	if ch != canhw.Channel0 {
		return CodeIllegalChannel
	}
	if u.channelOpen.Load() {
		return CodeBusy
	}
	cmds := []string{timingCommand(cfg.Bitrate, cfg.BTR)}
	if cfg.AMR != canhw.AMRAll {
		acr, amr := acceptanceCommands(cfg.AMR, cfg.ACR)
		cmds = append(cmds, acr, amr)
	}
	if cfg.Mode&canhw.ModeHighResTimer != 0 {
		cmds = append(cmds, "Z1")
	} else {
		cmds = append(cmds, "Z0")
	}
	u.listenOnly = cfg.Mode&canhw.ModeListenOnly != 0
	cmds = append(cmds, u.openCommand())
	if code := u.commands(cmds...); code != CodeOK {
		return code
	}
	u.channelOpen.Store(true)
	u.sink.Post(canhw.Event{Type: canhw.EventChannelReady, Channel: ch})
	return CodeOK
}

func timingCommand(bitrate uint32, btr uint16) string {
	if cmd, ok := bitrateCommand(bitrate); ok {
		return cmd
	}
	return btrCommand(btr)
}

func (u *unit) openCommand() string {
	if u.listenOnly {
		return "L"
	}
	return "O"
}

func (d *Driver) Read(h canhw.Handle, ch canhw.Channel, buf []canhw.Frame, timeout time.Duration) (int, canhw.Channel, int) {
	if ch == canhw.ChannelAny {
		ch = canhw.Channel0
	}
	u, code := d.openChannel(h, ch)
	if code != CodeOK {
		return 0, ch, code
	}
	if len(buf) == 0 {
		return 0, ch, CodeIllegalParam
	}
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f := <-u.rx:
		buf[0] = f
	case <-t.C:
		return 0, ch, CodeNoData
	case <-u.done:
		return 0, ch, CodeDeviceIO
	}
	n := 1
	for n < len(buf) {
		select {
		case f := <-u.rx:
			buf[n] = f
			n++
			continue
		default:
		}
		break
	}
	return n, ch, CodeOK
}

func (d *Driver) Write(h canhw.Handle, ch canhw.Channel, frames []canhw.Frame) (int, int) {
	u, code := d.openChannel(h, ch)
	if code != CodeOK {
		return 0, code
	}
	if u.listenOnly {
		return 0, CodeIllegalParam
	}
	out := make([]byte, 0, 32)
	for i, f := range frames {
		u.limiter.Take()
		out = AppendFrame(out[:0], f)
		if err := u.write(out); err != nil {
			u.log.Error().Err(err).Msg("write")
			return i, CodeDeviceIO
		}
		u.sent.Add(1)
	}
	return len(frames), CodeOK
}

func (d *Driver) DeinitChannel(h canhw.Handle, ch canhw.Channel) int {
	u, code := d.openChannel(h, ch)
	if code != CodeOK {
		return code
	}
	if code := u.commands("C"); code != CodeOK {
		return code
	}
	u.channelOpen.Store(false)
	u.sink.Post(canhw.Event{Type: canhw.EventChannelClosed, Channel: ch})
	return CodeOK
}

func (d *Driver) DeinitHardware(h canhw.Handle) int {
	u, code := d.get(h)
	if code != CodeOK {
		return code
	}
	if u.channelOpen.Load() {
		u.commands("C")
		u.channelOpen.Store(false)
	}
	err := u.shutdown()
	d.mu.Lock()
	d.unit = nil
	d.mu.Unlock()
	u.sink.Post(canhw.Event{Type: canhw.EventHardwareClosed})
	if err != nil {
		u.log.Error().Err(err).Msg("close port")
		return CodePort
	}
	return CodeOK
}

func msDuration(ms uint64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
