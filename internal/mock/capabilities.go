package mock

import (
	"time"

	"github.com/roffe/canhw"
)

func (d *Driver) Status(h canhw.Handle, ch canhw.Channel) (canhw.ChannelStatus, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statuses[ch], d.record("Status", h, ch)
}

func (d *Driver) MessageCounts(h canhw.Handle, ch canhw.Channel) (uint16, uint16, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return uint16(len(d.written[ch])), 0, d.record("MessageCounts", h, ch)
}

func (d *Driver) ErrorCounters(h canhw.Handle, ch canhw.Channel) (uint32, uint32, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return 0, 0, d.record("ErrorCounters", h, ch)
}

func (d *Driver) ResetChannel(h canhw.Handle, ch canhw.Channel, flags canhw.ResetFlags) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	code := d.record("ResetChannel", h, ch, flags)
	if !d.failed(code) && flags&canhw.ResetNoRxBufferDLL == 0 {
		delete(d.rx, ch)
	}
	return code
}

func (d *Driver) SetBaudrate(h canhw.Handle, ch canhw.Channel, btr uint16, baudrateEx uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record("SetBaudrate", h, ch, btr, baudrateEx)
}

func (d *Driver) SetAcceptance(h canhw.Handle, ch canhw.Channel, amr, acr uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record("SetAcceptance", h, ch, amr, acr)
}

func (d *Driver) SetTxTimeout(h canhw.Handle, ch canhw.Channel, timeout time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.record("SetTxTimeout", h, ch, timeout)
}

func (d *Driver) Pending(h canhw.Handle, ch canhw.Channel, flags canhw.PendingFlags) (uint32, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var n uint32
	if flags&canhw.PendingRxAll != 0 {
		n += uint32(len(d.rx[ch]))
	}
	return n, d.record("Pending", h, ch, flags)
}

func (d *Driver) HardwareInfo(h canhw.Handle) (canhw.HardwareInfo, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hw, d.record("HardwareInfo", h)
}

func (d *Driver) DefineCyclic(h canhw.Handle, ch canhw.Channel, task canhw.PeriodicTask) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	code := d.record("DefineCyclic", h, ch, len(task.Frames))
	if d.failed(code) {
		return code
	}
	if len(task.Frames) == 0 {
		delete(d.cyclic, ch)
	} else {
		d.cyclic[ch] = task
	}
	return code
}

func (d *Driver) ReadCyclic(h canhw.Handle, ch canhw.Channel) ([]canhw.Frame, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	code := d.record("ReadCyclic", h, ch)
	return append([]canhw.Frame(nil), d.cyclic[ch].Frames...), code
}

func (d *Driver) EnableCyclic(h canhw.Handle, ch canhw.Channel, flags canhw.CyclicFlags) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	code := d.record("EnableCyclic", h, ch, flags)
	if !d.failed(code) {
		d.flags[ch] = flags
	}
	return code
}

func (d *Driver) Enumerate(filter canhw.EnumFilter, collect func(canhw.ModuleInfo)) int {
	d.mu.Lock()
	code := d.record("Enumerate", filter)
	mods := append([]canhw.ModuleInfo(nil), d.modules...)
	d.mu.Unlock()
	if d.failed(code) {
		return code
	}
	for _, m := range mods {
		if m.InUse && !filter.IncludeUsed {
			continue
		}
		if filter.Match(m.Hardware) {
			collect(m)
		}
	}
	return code
}

func (d *Driver) InitConnectControl(events canhw.EventSink) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	code := d.record("InitConnectControl")
	if !d.failed(code) {
		if events == nil {
			events = canhw.Discard
		}
		d.hotplug = events
	}
	return code
}

func (d *Driver) ConnectControlActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hotplug != nil
}

func (d *Driver) DeinitConnectControl() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	code := d.record("DeinitConnectControl")
	if !d.failed(code) {
		d.hotplug = nil
	}
	return code
}

var (
	_ canhw.Driver             = (*Driver)(nil)
	_ canhw.StatusReader       = (*Driver)(nil)
	_ canhw.ErrorCounterReader = (*Driver)(nil)
	_ canhw.Resetter           = (*Driver)(nil)
	_ canhw.BaudrateSetter     = (*Driver)(nil)
	_ canhw.AcceptanceSetter   = (*Driver)(nil)
	_ canhw.HardwareInfoReader = (*Driver)(nil)
	_ canhw.TxTimeoutSetter    = (*Driver)(nil)
	_ canhw.PendingCounter     = (*Driver)(nil)
	_ canhw.CyclicScheduler    = (*Driver)(nil)
	_ canhw.Enumerator         = (*Driver)(nil)
	_ canhw.Hotplugger         = (*Driver)(nil)
)
