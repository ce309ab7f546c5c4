package ucan

import (
	"fmt"
	"time"

	"github.com/roffe/canhw"
)

func (d *Driver) Status(h canhw.Handle, ch canhw.Channel) (canhw.ChannelStatus, int) {
	lib, u, code := d.channel(h, ch)
	if code != CodeOK {
		return canhw.ChannelStatus{}, code
	}
	st, ret := lib.GetStatus(u.handle, uint8(ch))
	return canhw.ChannelStatus{CAN: canhw.CANStatus(st.CAN), USB: st.USB}, int(ret)
}

func (d *Driver) MessageCounts(h canhw.Handle, ch canhw.Channel) (uint16, uint16, int) {
	lib, u, code := d.channel(h, ch)
	if code != CodeOK {
		return 0, 0, code
	}
	mc, ret := lib.GetMsgCountInfo(u.handle, uint8(ch))
	return mc.Sent, mc.Recv, int(ret)
}

func (d *Driver) ErrorCounters(h canhw.Handle, ch canhw.Channel) (uint32, uint32, int) {
	lib, u, code := d.channel(h, ch)
	if code != CodeOK {
		return 0, 0, code
	}
	tx, rx, ret := lib.GetCanErrorCounter(u.handle, uint8(ch))
	return tx, rx, int(ret)
}

func (d *Driver) ResetChannel(h canhw.Handle, ch canhw.Channel, flags canhw.ResetFlags) int {
	lib, u, code := d.channel(h, ch)
	if code != CodeOK {
		return code
	}
	return int(lib.ResetCan(u.handle, uint8(ch), uint32(flags)))
}

func (d *Driver) SetBaudrate(h canhw.Handle, ch canhw.Channel, btr uint16, baudrateEx uint32) int {
	lib, u, code := d.channel(h, ch)
	if code != CodeOK {
		return code
	}
	return int(lib.SetBaudrate(u.handle, uint8(ch), uint8(btr>>8), uint8(btr), baudrateEx))
}

func (d *Driver) SetAcceptance(h canhw.Handle, ch canhw.Channel, amr, acr uint32) int {
	lib, u, code := d.channel(h, ch)
	if code != CodeOK {
		return code
	}
	return int(lib.SetAcceptance(u.handle, uint8(ch), amr, acr))
}

func (d *Driver) SetTxTimeout(h canhw.Handle, ch canhw.Channel, timeout time.Duration) int {
	lib, u, code := d.channel(h, ch)
	if code != CodeOK {
		return code
	}
	return int(lib.SetTxTimeout(u.handle, uint8(ch), msDuration(timeout)))
}

func (d *Driver) Pending(h canhw.Handle, ch canhw.Channel, flags canhw.PendingFlags) (uint32, int) {
	lib, u, code := d.channel(h, ch)
	if code != CodeOK {
		return 0, code
	}
	n, ret := lib.GetMsgPending(u.handle, uint8(ch), uint32(flags))
	return n, int(ret)
}

func (d *Driver) HardwareInfo(h canhw.Handle) (canhw.HardwareInfo, int) {
	lib, u, code := d.get(h)
	if code != CodeOK {
		return canhw.HardwareInfo{}, code
	}
	hw, _, ret := lib.GetHardwareInfo(u.handle)
	if canhw.Classify(int(ret), d.Thresholds()).Failed() {
		return canhw.HardwareInfo{}, int(ret)
	}
	if fw := lib.GetFwVersion(u.handle); fw != 0 {
		hw.FwVersionEx = fw
	}
	hi := hw.info()
	hi.Description = fmt.Sprintf("%s #%d", Description, hw.DeviceNr)
	return hi, int(ret)
}

// DefineCyclic loads the task frames into the module. The firmware keeps a
// single cycle time per entry and has no burst phase, so every entry gets
// SubsequentPeriod, or InitialPeriod when that is all the task has.
func (d *Driver) DefineCyclic(h canhw.Handle, ch canhw.Channel, task canhw.PeriodicTask) int {
	lib, u, code := d.channel(h, ch)
	if code != CodeOK {
		return code
	}
	period := task.SubsequentPeriod
	if period == 0 {
		period = task.InitialPeriod
	}
	msgs := make([]canMsg, len(task.Frames))
	for i, f := range task.Frames {
		msgs[i] = toCanMsg(f)
		msgs[i].Time = msDuration(period)
	}
	return int(lib.DefineCyclicCanMsg(u.handle, uint8(ch), msgs))
}

// ReadCyclic returns the defined list. Each frame's Timestamp holds its
// cycle time.
func (d *Driver) ReadCyclic(h canhw.Handle, ch canhw.Channel) ([]canhw.Frame, int) {
	lib, u, code := d.channel(h, ch)
	if code != CodeOK {
		return nil, code
	}
	msgs, ret := lib.ReadCyclicCanMsg(u.handle, uint8(ch))
	frames := make([]canhw.Frame, len(msgs))
	for i, m := range msgs {
		frames[i] = m.frame()
	}
	return frames, int(ret)
}

func (d *Driver) EnableCyclic(h canhw.Handle, ch canhw.Channel, flags canhw.CyclicFlags) int {
	lib, u, code := d.channel(h, ch)
	if code != CodeOK {
		return code
	}
	return int(lib.EnableCyclicCanMsg(u.handle, uint8(ch), uint32(flags)))
}

func (d *Driver) Enumerate(filter canhw.EnumFilter, collect func(canhw.ModuleInfo)) int {
	d.mu.Lock()
	lib, code := d.library()
	d.mu.Unlock()
	if code != CodeOK {
		return code
	}
	r := enumRange{
		used:        filter.IncludeUsed,
		deviceLow:   filter.DeviceLow,
		deviceHigh:  filter.DeviceHigh,
		serialLow:   filter.SerialLow,
		serialHigh:  filter.SerialHigh,
		productLow:  filter.ProductLow,
		productHigh: filter.ProductHigh,
	}
	lib.EnumerateHardware(r, func(index uint32, used bool, hw hardwareInfoEx) {
		hi := hw.info()
		if !filter.Match(hi) {
			return
		}
		collect(canhw.ModuleInfo{
			Index:    int(index),
			InUse:    used,
			Name:     fmt.Sprintf("USB-CANmodul #%d", hw.DeviceNr),
			Hardware: hi,
		})
	})
	return CodeOK
}

func (d *Driver) InitConnectControl(events canhw.EventSink) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	lib, code := d.library()
	if code != CodeOK {
		return code
	}
	if d.connect != nil {
		return CodeBusy
	}
	if events == nil {
		events = canhw.Discard
	}
	ret := lib.InitHwConnectControl(func(event, param uint32) {
		ev, ok := translateEvent(event, param)
		if !ok {
			return
		}
		if !events.Post(ev) {
			d.log.Warn().Str("event", ev.String()).Msg("event dropped")
		}
	})
	if ret == CodeOK {
		d.connect = events
	}
	return int(ret)
}

func (d *Driver) ConnectControlActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connect != nil
}

func (d *Driver) DeinitConnectControl() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lib == nil || d.connect == nil {
		return CodeOK
	}
	ret := d.lib.DeinitHwConnectControl()
	d.connect = nil
	return int(ret)
}
