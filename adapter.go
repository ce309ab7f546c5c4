package canhw

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DriverInfo describes a backend that can be created by name.
type DriverInfo struct {
	Name               string
	Description        string
	RequiresSerialPort bool
	New                func(*DriverConfig) (Driver, error)
}

func (d *DriverInfo) String() string {
	return fmt.Sprintf("%s | %s, requires serial port: %v", d.Name, d.Description, d.RequiresSerialPort)
}

// DriverConfig carries the settings a backend needs before any hardware is
// opened.
type DriverConfig struct {
	Debug bool
	// Library is the shared library path for run-time bound drivers.
	Library      string
	Port         string
	PortBaudrate int
	// MinimumFirmwareVersion is a "vX.Y.Z" string some drivers refuse to
	// run below.
	MinimumFirmwareVersion string
	AdditionalConfig       map[string]string
}

var (
	driverMu  sync.RWMutex
	driverMap = make(map[string]*DriverInfo)
)

func NewDriver(name string, cfg *DriverConfig) (Driver, error) {
	if cfg == nil {
		cfg = &DriverConfig{}
	}
	driverMu.RLock()
	info, found := driverMap[name]
	driverMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("%w %q", ErrUnknownDriver, name)
	}
	return info.New(cfg)
}

func RegisterDriver(info *DriverInfo) error {
	driverMu.Lock()
	defer driverMu.Unlock()
	if _, found := driverMap[info.Name]; found {
		return fmt.Errorf("driver %s already registered", info.Name)
	}
	driverMap[info.Name] = info
	return nil
}

func ListDriverNames() []string {
	driverMu.RLock()
	defer driverMu.RUnlock()
	out := make([]string, 0, len(driverMap))
	for name := range driverMap {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i]) < strings.ToLower(out[j]) })
	return out
}

func ListDrivers() []DriverInfo {
	var out []DriverInfo
	for _, name := range ListDriverNames() {
		driverMu.RLock()
		out = append(out, *driverMap[name])
		driverMu.RUnlock()
	}
	return out
}
