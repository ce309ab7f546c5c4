package slcan

import (
	"github.com/roffe/canhw"
)

func (d *Driver) Status(h canhw.Handle, ch canhw.Channel) (canhw.ChannelStatus, int) {
	u, code := d.openChannel(h, ch)
	if code != CodeOK {
		return canhw.ChannelStatus{}, code
	}
	line, err := u.command("F")
	if err != nil {
		u.log.Error().Err(err).Msg("read status flags")
		return canhw.ChannelStatus{}, CodeTimeout
	}
	st, err := decodeStatus(line)
	if err != nil {
		u.log.Error().Err(err).Msg("decode status flags")
		return canhw.ChannelStatus{}, CodeDeviceIO
	}
	if u.dropped.Load() > 0 {
		st |= canhw.CANStatusQOVERRUN
	}
	return canhw.ChannelStatus{CAN: st}, CodeOK
}

func (d *Driver) MessageCounts(h canhw.Handle, ch canhw.Channel) (uint16, uint16, int) {
	u, code := d.openChannel(h, ch)
	if code != CodeOK {
		return 0, 0, code
	}
	return uint16(u.sent.Load()), uint16(u.recv.Load()), CodeOK
}

// ResetChannel clears the host side counters and queue. The adapter has no
// partial reset, so anything touching the controller closes and reopens
// the channel.
func (d *Driver) ResetChannel(h canhw.Handle, ch canhw.Channel, flags canhw.ResetFlags) int {
	u, code := d.openChannel(h, ch)
	if code != CodeOK {
		return code
	}
	if flags&canhw.ResetNoTxCounter == 0 {
		u.sent.Store(0)
	}
	if flags&canhw.ResetNoRxCounter == 0 {
		u.recv.Store(0)
	}
	if flags&canhw.ResetNoStatus == 0 {
		u.dropped.Store(0)
	}
	if flags&canhw.ResetNoRxBufferDLL == 0 {
	drain:
		for {
			select {
			case <-u.rx:
			default:
				break drain
			}
		}
	}
	if flags&canhw.ResetNoCANCtrl == 0 {
		return u.commands("C", u.openCommand())
	}
	return CodeOK
}

func (d *Driver) SetBaudrate(h canhw.Handle, ch canhw.Channel, btr uint16, baudrateEx uint32) int {
	u, code := d.openChannel(h, ch)
	if code != CodeOK {
		return code
	}
	return u.commands("C", timingCommand(baudrateEx, btr), u.openCommand())
}

func (d *Driver) SetAcceptance(h canhw.Handle, ch canhw.Channel, amr, acr uint32) int {
	u, code := d.openChannel(h, ch)
	if code != CodeOK {
		return code
	}
	mc, mm := acceptanceCommands(amr, acr)
	return u.commands("C", mc, mm, u.openCommand())
}

func (d *Driver) HardwareInfo(h canhw.Handle) (canhw.HardwareInfo, int) {
	u, code := d.get(h)
	if code != CodeOK {
		return canhw.HardwareInfo{}, code
	}
	return canhw.HardwareInfo{
		Serial:      u.serial,
		Firmware:    u.fw,
		Channels:    1,
		Description: Description + " on " + u.name,
	}, CodeOK
}

// Enumerate lists serial ports. Nothing is opened, so firmware and serial
// number are only known for the port in use.
func (d *Driver) Enumerate(filter canhw.EnumFilter, collect func(canhw.ModuleInfo)) int {
	ports, err := d.ports()
	if err != nil {
		d.log.Error().Err(err).Msg("list serial ports")
		return CodePort
	}
	d.mu.Lock()
	cur := d.unit
	d.mu.Unlock()
	for i, p := range ports {
		hi := canhw.HardwareInfo{DeviceNumber: uint8(i), Channels: 1, Description: Description + " on " + p}
		inUse := cur != nil && cur.name == p
		if inUse {
			hi.Serial = cur.serial
			hi.Firmware = cur.fw
			if !filter.IncludeUsed {
				continue
			}
		}
		if !filter.Match(hi) {
			continue
		}
		collect(canhw.ModuleInfo{Index: i, InUse: inUse, Name: p, Hardware: hi})
	}
	return CodeOK
}
