package ucan

// connectFunc receives CONNECT, DISCONNECT and FATALDISCON. param is the
// handle of the lost module for FATALDISCON.
type connectFunc func(event, param uint32)

// eventFunc receives the per-handle events.
type eventFunc func(handle uint8, event uint32, channel uint8)

// enumFunc receives one module found by EnumerateHardware.
type enumFunc func(index uint32, used bool, hw hardwareInfoEx)

type enumRange struct {
	used                    bool
	deviceLow, deviceHigh   uint8
	serialLow, serialHigh   uint32
	productLow, productHigh uint32
}

// api is the subset of the USBCAN library the driver calls. Every method
// returns the raw library code last.
type api interface {
	InitHwConnectControl(fn connectFunc) uint8
	DeinitHwConnectControl() uint8
	EnumerateHardware(r enumRange, fn enumFunc) uint32

	InitHardware(deviceNr uint8, fn eventFunc) (uint8, uint8)
	InitHardwareSerial(serial uint32, fn eventFunc) (uint8, uint8)
	GetHardwareInfo(h uint8) (hardwareInfoEx, [2]channelInfo, uint8)
	GetFwVersion(h uint8) uint32
	DeinitHardware(h uint8) uint8

	InitCan(h, ch uint8, p initCanParam) uint8
	DeinitCan(h, ch uint8) uint8
	ResetCan(h, ch uint8, flags uint32) uint8
	SetBaudrate(h, ch, btr0, btr1 uint8, baudrateEx uint32) uint8
	SetAcceptance(h, ch uint8, amr, acr uint32) uint8
	SetTxTimeout(h, ch uint8, ms uint32) uint8

	// ReadCanMsg fills msgs and reports how many were read and from
	// which channel.
	ReadCanMsg(h, ch uint8, msgs []canMsg) (int, uint8, uint8)
	WriteCanMsg(h, ch uint8, msgs []canMsg) (int, uint8)

	GetStatus(h, ch uint8) (status, uint8)
	GetMsgCountInfo(h, ch uint8) (msgCountInfo, uint8)
	GetMsgPending(h, ch uint8, flags uint32) (uint32, uint8)
	GetCanErrorCounter(h, ch uint8) (uint32, uint32, uint8)

	DefineCyclicCanMsg(h, ch uint8, msgs []canMsg) uint8
	ReadCyclicCanMsg(h, ch uint8) ([]canMsg, uint8)
	EnableCyclicCanMsg(h, ch uint8, flags uint32) uint8
}
