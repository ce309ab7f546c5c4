//go:build linux

package socketcan

import (
	"fmt"
	"strings"
	"time"

	"github.com/roffe/canhw"
	"github.com/roffe/canhw/pkg/bcm"
	"golang.org/x/sys/unix"
)

func (d *Driver) linkInfo(h canhw.Handle, ch canhw.Channel) (linkInfo, int) {
	d.mu.Lock()
	_, c, code := d.channel(h, ch)
	d.mu.Unlock()
	if code != CodeOK {
		return linkInfo{}, code
	}
	li, err := c.link.info()
	if err != nil {
		d.log.Error().Err(err).Msg("link info")
		return linkInfo{}, CodeNetlink
	}
	return li, CodeOK
}

func (d *Driver) Status(h canhw.Handle, ch canhw.Channel) (canhw.ChannelStatus, int) {
	li, code := d.linkInfo(h, ch)
	if code != CodeOK {
		return canhw.ChannelStatus{}, code
	}
	st := canhw.ChannelStatus{CAN: statusOf(li.State)}
	if !li.Up {
		return st, CodeLinkDown
	}
	return st, CodeOK
}

func (d *Driver) MessageCounts(h canhw.Handle, ch canhw.Channel) (uint16, uint16, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, c, code := d.channel(h, ch)
	if code != CodeOK {
		return 0, 0, code
	}
	return uint16(c.sent.Load()), uint16(c.recv.Load()), CodeOK
}

func (d *Driver) ErrorCounters(h canhw.Handle, ch canhw.Channel) (uint32, uint32, int) {
	li, code := d.linkInfo(h, ch)
	if code != CodeOK {
		return 0, 0, code
	}
	return uint32(li.Berr.Txerr), uint32(li.Berr.Rxerr), CodeOK
}

// ResetChannel clears the message counters and, unless the flags keep
// them, the socket receive queue and the controller. Restarting the
// controller needs a managed link.
func (d *Driver) ResetChannel(h canhw.Handle, ch canhw.Channel, flags canhw.ResetFlags) int {
	d.mu.Lock()
	_, c, code := d.channel(h, ch)
	d.mu.Unlock()
	if code != CodeOK {
		return code
	}
	if flags&canhw.ResetNoTxCounter == 0 {
		c.sent.Store(0)
	}
	if flags&canhw.ResetNoRxCounter == 0 {
		c.recv.Store(0)
	}
	if flags&canhw.ResetNoRxBufferSys == 0 {
		buf := make([]byte, bcm.CANFrameSize)
		for {
			if _, _, err := unix.Recvfrom(c.fd, buf, unix.MSG_DONTWAIT); err != nil {
				break
			}
		}
	}
	if flags&canhw.ResetNoCANCtrl == 0 && d.manageLink {
		if err := c.link.setUp(false); err != nil {
			return CodeNetlink
		}
		if err := c.link.setUp(true); err != nil {
			return CodeNetlink
		}
	}
	return CodeOK
}

func (d *Driver) SetBaudrate(h canhw.Handle, ch canhw.Channel, btr uint16, baudrateEx uint32) int {
	if !d.manageLink {
		return CodeIllegalParam
	}
	d.mu.Lock()
	_, c, code := d.channel(h, ch)
	d.mu.Unlock()
	if code != CodeOK {
		return code
	}
	bitrate, ok := bitrateOf(0, btr, baudrateEx)
	if !ok {
		return CodeIllegalParam
	}
	li, err := c.link.info()
	if err != nil {
		return CodeNetlink
	}
	listenOnly := li.CtrlMode.Flags&unix.CAN_CTRLMODE_LISTENONLY != 0
	return d.reconfigure(c.link, bitrate, listenOnly)
}

func (d *Driver) SetAcceptance(h canhw.Handle, ch canhw.Channel, amr, acr uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, c, code := d.channel(h, ch)
	if code != CodeOK {
		return code
	}
	return c.setFilter(filtersFor(amr, acr))
}

func (d *Driver) SetTxTimeout(h canhw.Handle, ch canhw.Channel, timeout time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, c, code := d.channel(h, ch)
	if code != CodeOK {
		return code
	}
	return c.setTxTimeout(timeout)
}

// Pending reports queued bytes converted to frames. Only the socket
// queues exist, so the DLL and firmware flags map onto them too.
func (d *Driver) Pending(h canhw.Handle, ch canhw.Channel, flags canhw.PendingFlags) (uint32, int) {
	d.mu.Lock()
	_, c, code := d.channel(h, ch)
	d.mu.Unlock()
	if code != CodeOK {
		return 0, code
	}
	var total int
	if flags&canhw.PendingRxAll != 0 {
		n, err := unix.IoctlGetInt(c.fd, unix.SIOCINQ)
		if err != nil {
			return 0, CodeSocket
		}
		total += n
	}
	if flags&canhw.PendingTxAll != 0 {
		n, err := unix.IoctlGetInt(c.fd, unix.SIOCOUTQ)
		if err != nil {
			return 0, CodeSocket
		}
		total += n
	}
	return uint32(total / bcm.CANFrameSize), CodeOK
}

func (d *Driver) HardwareInfo(h canhw.Handle) (canhw.HardwareInfo, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	u, code := d.unit(h)
	if code != CodeOK {
		return canhw.HardwareInfo{}, code
	}
	return u.hardwareInfo(), CodeOK
}

func (u *unit) hardwareInfo() canhw.HardwareInfo {
	hi := canhw.HardwareInfo{
		DeviceNumber: uint8(u.index),
		Channels:     len(u.spec.ifaces),
		Description:  Description + " " + strings.Join(u.spec.ifaces, ","),
	}
	if len(u.links) > 0 {
		hi.Serial = uint32(u.links[0].index)
	}
	return hi
}

// DefineCyclic stores the task for the channel. When a task is running
// and the new one keeps its identifier, count and periods, only the
// payload is swapped and the schedule continues; otherwise the job is set
// up again.
func (d *Driver) DefineCyclic(h canhw.Handle, ch canhw.Channel, task canhw.PeriodicTask) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, c, code := d.channel(h, ch)
	if code != CodeOK {
		return code
	}
	if len(task.Frames) == 0 {
		if code := d.stopTask(c); code != CodeOK {
			return code
		}
		c.task = nil
		return CodeOK
	}
	t := task
	t.Frames = append([]canhw.Frame(nil), task.Frames...)
	c.task = &t
	if c.live != nil {
		return d.startTask(c)
	}
	return CodeOK
}

func (d *Driver) ReadCyclic(h canhw.Handle, ch canhw.Channel) ([]canhw.Frame, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, c, code := d.channel(h, ch)
	if code != CodeOK {
		return nil, code
	}
	if c.task == nil {
		return nil, CodeOK
	}
	return append([]canhw.Frame(nil), c.task.Frames...), CodeOK
}

// EnableCyclic starts or stops the stored task. Sequence mode and entry
// locks have no broadcast manager equivalent and are rejected.
func (d *Driver) EnableCyclic(h canhw.Handle, ch canhw.Channel, flags canhw.CyclicFlags) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, c, code := d.channel(h, ch)
	if code != CodeOK {
		return code
	}
	if flags&^(canhw.CyclicStart|canhw.CyclicNoEcho) != 0 {
		return CodeIllegalParam
	}
	if flags&canhw.CyclicStart == 0 {
		return d.stopTask(c)
	}
	if c.task == nil {
		return CodeCyclicUndefined
	}
	return d.startTask(c)
}

func (d *Driver) startTask(c *channel) int {
	if c.sched == nil {
		s, err := d.dialBCM(c.link.index)
		if err != nil {
			d.log.Error().Err(err).Msg("bcm dial")
			return CodeSocket
		}
		c.sched = s
	}
	if c.live != nil && sameSchedule(*c.live, *c.task) {
		if err := c.sched.Update(c.task.Frames...); err != nil {
			d.log.Error().Err(err).Msg("bcm update")
			return CodeSocket
		}
		c.live = c.task
		return CodeOK
	}
	if code := d.stopTask(c); code != CodeOK {
		return code
	}
	if err := c.sched.Setup(*c.task); err != nil {
		d.log.Error().Err(err).Msg("bcm setup")
		return CodeSocket
	}
	c.live = c.task
	return CodeOK
}

func (d *Driver) stopTask(c *channel) int {
	if c.live == nil {
		return CodeOK
	}
	if err := c.sched.DeleteAll(); err != nil {
		d.log.Error().Err(err).Msg("bcm delete")
		return CodeSocket
	}
	c.live = nil
	return CodeOK
}

// sameSchedule reports whether b can replace a running a by a payload
// update alone.
func sameSchedule(a, b canhw.PeriodicTask) bool {
	return bcm.CANID(a.Frames[0]) == bcm.CANID(b.Frames[0]) &&
		len(a.Frames) == len(b.Frames) &&
		a.Count == b.Count &&
		a.InitialPeriod == b.InitialPeriod &&
		a.SubsequentPeriod == b.SubsequentPeriod
}

func (d *Driver) Enumerate(filter canhw.EnumFilter, collect func(canhw.ModuleInfo)) int {
	specs, err := d.specs()
	if err != nil {
		return CodeNetlink
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, s := range specs {
		u := &unit{index: i, spec: s}
		for _, name := range s.ifaces {
			if l, err := linkByName(name); err == nil {
				u.links = append(u.links, l)
			}
		}
		inUse := d.inUse(i)
		if inUse && !filter.IncludeUsed {
			continue
		}
		hi := u.hardwareInfo()
		if !filter.Match(hi) {
			continue
		}
		collect(canhw.ModuleInfo{
			Index:    i,
			InUse:    inUse,
			Name:     fmt.Sprintf("%s %s", Name, strings.Join(s.ifaces, ",")),
			Hardware: hi,
		})
	}
	return CodeOK
}
