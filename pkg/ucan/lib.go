//go:build darwin || freebsd || linux || netbsd || windows

package ucan

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// library is the purego binding of the USBCAN library.
type library struct {
	path   string
	handle uintptr

	initHwConnectControlEx func(cb, arg uintptr) uint8
	deinitHwConnectControl func() uint8
	enumerateHardware      func(cb, arg uintptr, used int32, devLow, devHigh uint8, snLow, snHigh, pcLow, pcHigh uint32) uint32
	initHardwareEx         func(h *uint8, devNr uint8, cb, arg uintptr) uint8
	initHardwareEx2        func(h *uint8, serial uint32, cb, arg uintptr) uint8
	getHardwareInfoEx2     func(h uint8, hw, ci0, ci1 *byte) uint8
	getFwVersion           func(h uint8) uint32
	initCanEx2             func(h, ch uint8, param *byte) uint8
	setBaudrateEx          func(h, ch, btr0, btr1 uint8, baudEx uint32) uint8
	setAcceptanceEx        func(h, ch uint8, amr, acr uint32) uint8
	resetCanEx             func(h, ch uint8, flags uint32) uint8
	readCanMsgEx           func(h uint8, ch *uint8, msgs *byte, count *uint32) uint8
	writeCanMsgEx          func(h, ch uint8, msgs *byte, count *uint32) uint8
	getStatusEx            func(h, ch uint8, st *byte) uint8
	getMsgCountInfoEx      func(h, ch uint8, info *byte) uint8
	getMsgPending          func(h, ch uint8, flags uint32, count *uint32) uint8
	getCanErrorCounter     func(h, ch uint8, tx, rx *uint32) uint8
	setTxTimeout           func(h, ch uint8, ms uint32) uint8
	deinitCanEx            func(h, ch uint8) uint8
	deinitHardware         func(h uint8) uint8
	defineCyclicCanMsg     func(h, ch uint8, msgs *byte, count uint32) uint8
	readCyclicCanMsg       func(h, ch uint8, msgs *byte, count *uint32) uint8
	enableCyclicCanMsg     func(h, ch uint8, flags uint32) uint8

	mu      sync.Mutex
	handles map[uint8]uintptr
}

func loadLibrary(path string) (*library, error) {
	if path == "" {
		path = defaultLibrary()
	}
	h, err := openLibrary(path)
	if err != nil {
		return nil, fmt.Errorf("ucan: load %s: %w", path, err)
	}
	l := &library{path: path, handle: h, handles: make(map[uint8]uintptr)}
	for _, s := range l.symbols() {
		addr, err := lookupSymbol(h, s.name)
		if err != nil {
			return nil, fmt.Errorf("ucan: %s: %w", s.name, err)
		}
		purego.RegisterFunc(s.fn, addr)
	}
	registerTrampolines()
	return l, nil
}

func (l *library) symbols() []struct {
	name string
	fn   any
} {
	return []struct {
		name string
		fn   any
	}{
		{"UcanInitHwConnectControlEx", &l.initHwConnectControlEx},
		{"UcanDeinitHwConnectControl", &l.deinitHwConnectControl},
		{"UcanEnumerateHardware", &l.enumerateHardware},
		{"UcanInitHardwareEx", &l.initHardwareEx},
		{"UcanInitHardwareEx2", &l.initHardwareEx2},
		{"UcanGetHardwareInfoEx2", &l.getHardwareInfoEx2},
		{"UcanGetFwVersion", &l.getFwVersion},
		{"UcanInitCanEx2", &l.initCanEx2},
		{"UcanSetBaudrateEx", &l.setBaudrateEx},
		{"UcanSetAcceptanceEx", &l.setAcceptanceEx},
		{"UcanResetCanEx", &l.resetCanEx},
		{"UcanReadCanMsgEx", &l.readCanMsgEx},
		{"UcanWriteCanMsgEx", &l.writeCanMsgEx},
		{"UcanGetStatusEx", &l.getStatusEx},
		{"UcanGetMsgCountInfoEx", &l.getMsgCountInfoEx},
		{"UcanGetMsgPending", &l.getMsgPending},
		{"UcanGetCanErrorCounter", &l.getCanErrorCounter},
		{"UcanSetTxTimeout", &l.setTxTimeout},
		{"UcanDeinitCanEx", &l.deinitCanEx},
		{"UcanDeinitHardware", &l.deinitHardware},
		{"UcanDefineCyclicCanMsg", &l.defineCyclicCanMsg},
		{"UcanReadCyclicCanMsg", &l.readCyclicCanMsg},
		{"UcanEnableCyclicCanMsg", &l.enableCyclicCanMsg},
	}
}

// The library calls back from its own threads. purego callbacks are a
// finite process wide resource, so three trampolines are created once and
// route by the arg pointer the library hands back.
var trampolines struct {
	once    sync.Once
	connect uintptr
	event   uintptr
	enum    uintptr

	mu        sync.Mutex
	next      uintptr
	connectFn connectFunc
	events    map[uintptr]eventFunc
	enums     map[uintptr]enumFunc
}

func registerTrampolines() {
	trampolines.once.Do(func() {
		trampolines.events = make(map[uintptr]eventFunc)
		trampolines.enums = make(map[uintptr]enumFunc)
		trampolines.connect = purego.NewCallback(func(event, param, arg uintptr) uintptr {
			trampolines.mu.Lock()
			fn := trampolines.connectFn
			trampolines.mu.Unlock()
			if fn != nil {
				fn(uint32(event), uint32(param))
			}
			return 0
		})
		trampolines.event = purego.NewCallback(func(handle, event, channel, arg uintptr) uintptr {
			trampolines.mu.Lock()
			fn := trampolines.events[arg]
			trampolines.mu.Unlock()
			if fn != nil {
				fn(uint8(handle), uint32(event), uint8(channel))
			}
			return 0
		})
		trampolines.enum = purego.NewCallback(func(index, used, hw, init, arg uintptr) uintptr {
			trampolines.mu.Lock()
			fn := trampolines.enums[arg]
			trampolines.mu.Unlock()
			if fn == nil || hw == 0 {
				return 0
			}
			info, err := unmarshalHardwareInfo(unsafe.Slice((*byte)(unsafe.Pointer(hw)), hardwareInfoSize))
			if err == nil {
				fn(uint32(index), int32(used) != 0, info)
			}
			return 0
		})
	})
}

func nextCallbackID() uintptr {
	trampolines.next++
	return trampolines.next
}

func (l *library) InitHwConnectControl(fn connectFunc) uint8 {
	trampolines.mu.Lock()
	trampolines.connectFn = fn
	trampolines.mu.Unlock()
	return l.initHwConnectControlEx(trampolines.connect, 0)
}

func (l *library) DeinitHwConnectControl() uint8 {
	ret := l.deinitHwConnectControl()
	trampolines.mu.Lock()
	trampolines.connectFn = nil
	trampolines.mu.Unlock()
	return ret
}

func (l *library) EnumerateHardware(r enumRange, fn enumFunc) uint32 {
	trampolines.mu.Lock()
	id := nextCallbackID()
	trampolines.enums[id] = fn
	trampolines.mu.Unlock()
	defer func() {
		trampolines.mu.Lock()
		delete(trampolines.enums, id)
		trampolines.mu.Unlock()
	}()
	var used int32
	if r.used {
		used = 1
	}
	return l.enumerateHardware(trampolines.enum, id, used,
		r.deviceLow, r.deviceHigh, r.serialLow, r.serialHigh, r.productLow, r.productHigh)
}

func (l *library) initHardware(fn eventFunc, call func(h *uint8, cb, arg uintptr) uint8) (uint8, uint8) {
	trampolines.mu.Lock()
	id := nextCallbackID()
	trampolines.events[id] = fn
	trampolines.mu.Unlock()
	var h uint8
	ret := call(&h, trampolines.event, id)
	if ret != CodeOK {
		trampolines.mu.Lock()
		delete(trampolines.events, id)
		trampolines.mu.Unlock()
		return 0, ret
	}
	l.mu.Lock()
	l.handles[h] = id
	l.mu.Unlock()
	return h, ret
}

func (l *library) InitHardware(deviceNr uint8, fn eventFunc) (uint8, uint8) {
	return l.initHardware(fn, func(h *uint8, cb, arg uintptr) uint8 {
		return l.initHardwareEx(h, deviceNr, cb, arg)
	})
}

func (l *library) InitHardwareSerial(serial uint32, fn eventFunc) (uint8, uint8) {
	return l.initHardware(fn, func(h *uint8, cb, arg uintptr) uint8 {
		return l.initHardwareEx2(h, serial, cb, arg)
	})
}

func (l *library) GetHardwareInfo(h uint8) (hardwareInfoEx, [2]channelInfo, uint8) {
	hw, c0, c1 := newHardwareInfoBuf(), newChannelInfoBuf(), newChannelInfoBuf()
	ret := l.getHardwareInfoEx2(h, &hw[0], &c0[0], &c1[0])
	info, _ := unmarshalHardwareInfo(hw)
	return info, [2]channelInfo{unmarshalChannelInfo(c0), unmarshalChannelInfo(c1)}, ret
}

func (l *library) GetFwVersion(h uint8) uint32 { return l.getFwVersion(h) }

func (l *library) DeinitHardware(h uint8) uint8 {
	ret := l.deinitHardware(h)
	l.mu.Lock()
	id, ok := l.handles[h]
	delete(l.handles, h)
	l.mu.Unlock()
	if ok {
		trampolines.mu.Lock()
		delete(trampolines.events, id)
		trampolines.mu.Unlock()
	}
	return ret
}

func (l *library) InitCan(h, ch uint8, p initCanParam) uint8 {
	b := p.marshal()
	return l.initCanEx2(h, ch, &b[0])
}

func (l *library) DeinitCan(h, ch uint8) uint8 { return l.deinitCanEx(h, ch) }

func (l *library) ResetCan(h, ch uint8, flags uint32) uint8 { return l.resetCanEx(h, ch, flags) }

func (l *library) SetBaudrate(h, ch, btr0, btr1 uint8, baudrateEx uint32) uint8 {
	return l.setBaudrateEx(h, ch, btr0, btr1, baudrateEx)
}

func (l *library) SetAcceptance(h, ch uint8, amr, acr uint32) uint8 {
	return l.setAcceptanceEx(h, ch, amr, acr)
}

func (l *library) SetTxTimeout(h, ch uint8, ms uint32) uint8 { return l.setTxTimeout(h, ch, ms) }

func (l *library) ReadCanMsg(h, ch uint8, msgs []canMsg) (int, uint8, uint8) {
	b := marshalCanMsgs(msgs)
	count := uint32(len(msgs))
	from := ch
	ret := l.readCanMsgEx(h, &from, &b[0], &count)
	for i, m := range unmarshalCanMsgs(b, int(count)) {
		msgs[i] = m
	}
	return int(min(count, uint32(len(msgs)))), from, ret
}

func (l *library) WriteCanMsg(h, ch uint8, msgs []canMsg) (int, uint8) {
	b := marshalCanMsgs(msgs)
	count := uint32(len(msgs))
	ret := l.writeCanMsgEx(h, ch, &b[0], &count)
	return int(count), ret
}

func (l *library) GetStatus(h, ch uint8) (status, uint8) {
	b := make([]byte, statusSize)
	ret := l.getStatusEx(h, ch, &b[0])
	return unmarshalStatus(b), ret
}

func (l *library) GetMsgCountInfo(h, ch uint8) (msgCountInfo, uint8) {
	b := make([]byte, msgCountInfoSize)
	ret := l.getMsgCountInfoEx(h, ch, &b[0])
	return unmarshalMsgCountInfo(b), ret
}

func (l *library) GetMsgPending(h, ch uint8, flags uint32) (uint32, uint8) {
	var n uint32
	ret := l.getMsgPending(h, ch, flags, &n)
	return n, ret
}

func (l *library) GetCanErrorCounter(h, ch uint8) (uint32, uint32, uint8) {
	var tx, rx uint32
	ret := l.getCanErrorCounter(h, ch, &tx, &rx)
	return tx, rx, ret
}

func (l *library) DefineCyclicCanMsg(h, ch uint8, msgs []canMsg) uint8 {
	b := marshalCanMsgs(msgs)
	return l.defineCyclicCanMsg(h, ch, &b[0], uint32(len(msgs)))
}

func (l *library) ReadCyclicCanMsg(h, ch uint8) ([]canMsg, uint8) {
	b := make([]byte, maxCyclicMsgs*canMsgSize)
	count := uint32(maxCyclicMsgs)
	ret := l.readCyclicCanMsg(h, ch, &b[0], &count)
	return unmarshalCanMsgs(b, int(count)), ret
}

func (l *library) EnableCyclicCanMsg(h, ch uint8, flags uint32) uint8 {
	return l.enableCyclicCanMsg(h, ch, flags)
}
