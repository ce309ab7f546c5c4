package canhw

import (
	"fmt"
	"time"
)

func (d *Device) Status(ch Channel) (ChannelStatus, error) {
	var st ChannelStatus
	err := d.withChannel(ch, func(h Handle) error {
		sr, ok := d.drv.(StatusReader)
		if !ok {
			return d.unsupported("status")
		}
		var code int
		st, code = sr.Status(h, ch)
		_, err := d.check(code, "Status", ch)
		return err
	})
	return st, err
}

// MessageCounts returns the sent and received frame counters of ch.
func (d *Device) MessageCounts(ch Channel) (sent, received uint16, err error) {
	err = d.withChannel(ch, func(h Handle) error {
		sr, ok := d.drv.(StatusReader)
		if !ok {
			return d.unsupported("message counts")
		}
		var code int
		sent, received, code = sr.MessageCounts(h, ch)
		_, err := d.check(code, "MessageCounts", ch)
		return err
	})
	return sent, received, err
}

func (d *Device) ErrorCounters(ch Channel) (tx, rx uint32, err error) {
	err = d.withChannel(ch, func(h Handle) error {
		ec, ok := d.drv.(ErrorCounterReader)
		if !ok {
			return d.unsupported("error counters")
		}
		var code int
		tx, rx, code = ec.ErrorCounters(h, ch)
		_, err := d.check(code, "ErrorCounters", ch)
		return err
	})
	return tx, rx, err
}

func (d *Device) ResetChannel(ch Channel, flags ResetFlags) error {
	return d.withChannel(ch, func(h Handle) error {
		r, ok := d.drv.(Resetter)
		if !ok {
			return d.unsupported("reset")
		}
		_, err := d.check(r.ResetChannel(h, ch, flags), "ResetChannel", ch, fmt.Sprintf("0x%08X", uint32(flags)))
		return err
	})
}

// SetBaudrate changes the bit timing of a running channel. btr carries BTR0
// in the high byte.
func (d *Device) SetBaudrate(ch Channel, btr uint16, baudrateEx uint32) error {
	return d.withChannel(ch, func(h Handle) error {
		bs, ok := d.drv.(BaudrateSetter)
		if !ok {
			return d.unsupported("set baudrate")
		}
		_, err := d.check(bs.SetBaudrate(h, ch, btr, baudrateEx), "SetBaudrate", ch, btr, baudrateEx)
		return err
	})
}

func (d *Device) SetAcceptance(ch Channel, amr, acr uint32) error {
	return d.withChannel(ch, func(h Handle) error {
		as, ok := d.drv.(AcceptanceSetter)
		if !ok {
			return d.unsupported("set acceptance")
		}
		_, err := d.check(as.SetAcceptance(h, ch, amr, acr), "SetAcceptance", ch, amr, acr)
		return err
	})
}

// SetTxTimeout sets how long the driver keeps trying to send a frame; zero
// disables the timeout.
func (d *Device) SetTxTimeout(ch Channel, timeout time.Duration) error {
	return d.withChannel(ch, func(h Handle) error {
		ts, ok := d.drv.(TxTimeoutSetter)
		if !ok {
			return d.unsupported("set tx timeout")
		}
		_, err := d.check(ts.SetTxTimeout(h, ch, timeout), "SetTxTimeout", ch, timeout)
		return err
	})
}

func (d *Device) Pending(ch Channel, flags PendingFlags) (uint32, error) {
	var n uint32
	err := d.withChannel(ch, func(h Handle) error {
		pc, ok := d.drv.(PendingCounter)
		if !ok {
			return d.unsupported("pending")
		}
		var code int
		n, code = pc.Pending(h, ch, flags)
		_, err := d.check(code, "Pending", ch, uint32(flags))
		return err
	})
	return n, err
}

func (d *Device) HardwareInfo() (HardwareInfo, error) {
	var hi HardwareInfo
	err := d.withHardware(func(h Handle) error {
		var err error
		hi, err = d.hardwareInfo(h)
		return err
	})
	return hi, err
}

func (d *Device) hardwareInfo(h Handle) (HardwareInfo, error) {
	hr, ok := d.drv.(HardwareInfoReader)
	if !ok {
		return HardwareInfo{}, d.unsupported("hardware info")
	}
	hi, code := hr.HardwareInfo(h)
	_, err := d.check(code, "HardwareInfo", h)
	return hi, err
}

func (d *Device) cyclicScheduler(h Handle) (CyclicScheduler, error) {
	cs, ok := d.drv.(CyclicScheduler)
	if !ok {
		return nil, d.unsupported("cyclic")
	}
	if _, ok := d.drv.(HardwareInfoReader); ok {
		hi, err := d.hardwareInfo(h)
		if err != nil {
			return nil, err
		}
		if !hi.SupportsCyclic() {
			return nil, fmt.Errorf("%s: firmware %s: %w", d.drv.Name(), hi.Firmware, ErrNotSupported)
		}
	}
	return cs, nil
}

// DefineCyclic hands task to the driver. The task replaces any task
// defined earlier on the same channel; an empty frame list deletes it.
// Transmission starts with EnableCyclic unless task.Enabled is set.
func (d *Device) DefineCyclic(task PeriodicTask) error {
	if err := task.Validate(); err != nil {
		return err
	}
	return d.withChannel(task.Channel, func(h Handle) error {
		cs, err := d.cyclicScheduler(h)
		if err != nil {
			return err
		}
		if _, err := d.check(cs.DefineCyclic(h, task.Channel, task), "DefineCyclic", task.Channel, len(task.Frames)); err != nil {
			return err
		}
		if len(task.Frames) == 0 {
			d.forgetTask(task.Channel)
			return nil
		}
		enable := task.Enabled
		task.Enabled = false
		d.rememberTask(task)
		if enable {
			if _, err := d.check(cs.EnableCyclic(h, task.Channel, CyclicStart), "EnableCyclic", task.Channel, CyclicStart); err != nil {
				return err
			}
			d.markEnabled(task.Channel, true)
		}
		return nil
	})
}

// ReadCyclic returns the frame list currently defined on ch.
func (d *Device) ReadCyclic(ch Channel) ([]Frame, error) {
	var frames []Frame
	err := d.withChannel(ch, func(h Handle) error {
		cs, err := d.cyclicScheduler(h)
		if err != nil {
			return err
		}
		var code int
		frames, code = cs.ReadCyclic(h, ch)
		_, err = d.check(code, "ReadCyclic", ch)
		return err
	})
	return frames, err
}

func (d *Device) EnableCyclic(ch Channel, flags CyclicFlags) error {
	return d.withChannel(ch, func(h Handle) error {
		cs, err := d.cyclicScheduler(h)
		if err != nil {
			return err
		}
		if _, err := d.check(cs.EnableCyclic(h, ch, flags), "EnableCyclic", ch, fmt.Sprintf("0x%08X", uint32(flags))); err != nil {
			return err
		}
		d.markEnabled(ch, flags&CyclicStart != 0)
		return nil
	})
}

// StopCyclic disables and deletes the task on ch.
func (d *Device) StopCyclic(ch Channel) error {
	if err := d.EnableCyclic(ch, CyclicStop); err != nil {
		return err
	}
	return d.DefineCyclic(PeriodicTask{Channel: ch})
}

// Task returns the task last defined on ch, if any.
func (d *Device) Task(ch Channel) (PeriodicTask, bool) {
	if !ch.Physical() {
		return PeriodicTask{}, false
	}
	d.taskMu.Lock()
	defer d.taskMu.Unlock()
	t := d.tasks[ch]
	if t == nil {
		return PeriodicTask{}, false
	}
	cp := *t
	cp.Frames = append([]Frame(nil), t.Frames...)
	return cp, true
}

func (d *Device) rememberTask(task PeriodicTask) {
	task.Frames = append([]Frame(nil), task.Frames...)
	d.taskMu.Lock()
	d.tasks[task.Channel] = &task
	d.taskMu.Unlock()
}

func (d *Device) markEnabled(ch Channel, on bool) {
	d.taskMu.Lock()
	if t := d.tasks[ch]; t != nil {
		t.Enabled = on
	}
	d.taskMu.Unlock()
}

func (d *Device) forgetTask(ch Channel) {
	d.taskMu.Lock()
	d.tasks[ch] = nil
	d.taskMu.Unlock()
}
