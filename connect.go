package canhw

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ConnectControl owns the process wide connect/disconnect registration of
// a driver. Create one at start-up, hand its Dispatcher to whoever needs
// the hooks and Close it on exit.
type ConnectControl struct {
	drv  Driver
	hp   Hotplugger
	disp *Dispatcher
	log  zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// ErrConnectControlActive is returned when a driver already has a live
// ConnectControl.
var ErrConnectControlActive = errors.New("connect control already registered")

func NewConnectControl(drv Driver, disp *Dispatcher) (*ConnectControl, error) {
	hp, ok := drv.(Hotplugger)
	if !ok {
		return nil, fmt.Errorf("%s: connect control: %w", drv.Name(), ErrNotSupported)
	}
	if hp.ConnectControlActive() {
		return nil, fmt.Errorf("%s: %w", drv.Name(), ErrConnectControlActive)
	}
	cc := &ConnectControl{
		drv:  drv,
		hp:   hp,
		disp: disp,
		log:  Logger().With().Str("driver", drv.Name()).Logger(),
	}
	if _, err := checkCode(cc.log, drv.Thresholds(), hp.InitConnectControl(disp), "InitConnectControl"); err != nil {
		return nil, err
	}
	return cc, nil
}

func (cc *ConnectControl) Dispatcher() *Dispatcher { return cc.disp }

// Close unregisters from the driver. Further calls are no-ops.
func (cc *ConnectControl) Close() error {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.closed {
		return nil
	}
	if _, err := checkCode(cc.log, cc.drv.Thresholds(), cc.hp.DeinitConnectControl(), "DeinitConnectControl"); err != nil {
		return err
	}
	cc.closed = true
	return nil
}
