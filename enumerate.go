package canhw

import (
	"fmt"
	"sync"
)

// EnumFilter bounds an enumeration scan. Bounds are inclusive and taken
// literally, so DeviceLow = DeviceHigh = 0 selects device 0 only. A filter
// whose bounds are all zero matches every unit; start from AllModules to
// narrow a single range.
type EnumFilter struct {
	IncludeUsed bool
	DeviceLow   uint8
	DeviceHigh  uint8
	SerialLow   uint32
	SerialHigh  uint32
	ProductLow  uint32
	ProductHigh uint32
}

func AllModules() EnumFilter {
	return EnumFilter{
		DeviceHigh:  0xFF,
		SerialHigh:  0xFFFFFFFF,
		ProductHigh: 0xFFFFFFFF,
	}
}

func (f EnumFilter) normalized() EnumFilter {
	bounds := f
	bounds.IncludeUsed = false
	if bounds != (EnumFilter{}) {
		return f
	}
	all := AllModules()
	all.IncludeUsed = f.IncludeUsed
	return all
}

// Match reports whether hw falls inside the filter bounds.
func (f EnumFilter) Match(hw HardwareInfo) bool {
	f = f.normalized()
	return hw.DeviceNumber >= f.DeviceLow && hw.DeviceNumber <= f.DeviceHigh &&
		hw.Serial >= f.SerialLow && hw.Serial <= f.SerialHigh &&
		hw.ProductCode >= f.ProductLow && hw.ProductCode <= f.ProductHigh
}

type ModuleInfo struct {
	Index    int
	InUse    bool
	Name     string
	Hardware HardwareInfo
}

func (m ModuleInfo) String() string {
	used := ""
	if m.InUse {
		used = " (in use)"
	}
	if m.Name != "" {
		return fmt.Sprintf("#%d %s: %s%s", m.Index, m.Name, m.Hardware, used)
	}
	return fmt.Sprintf("#%d: %s%s", m.Index, m.Hardware, used)
}

// EnumerationSession owns the results of hardware scans for one driver.
// Each Scan replaces the previous results.
type EnumerationSession struct {
	drv Driver
	en  Enumerator

	mu      sync.Mutex
	modules []ModuleInfo
}

func NewEnumeration(drv Driver) (*EnumerationSession, error) {
	en, ok := drv.(Enumerator)
	if !ok {
		return nil, fmt.Errorf("%s: enumerate: %w", drv.Name(), ErrNotSupported)
	}
	return &EnumerationSession{drv: drv, en: en}, nil
}

// Scan enumerates attached hardware and returns the accumulated list.
func (s *EnumerationSession) Scan(filter EnumFilter) ([]ModuleInfo, error) {
	return s.ScanFunc(filter, nil)
}

// ScanFunc is Scan with an extra collector called once per unit, on the
// calling goroutine, before the unit is appended to the results.
func (s *EnumerationSession) ScanFunc(filter EnumFilter, fn func(ModuleInfo)) ([]ModuleInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules = s.modules[:0]
	filter = filter.normalized()
	code := s.en.Enumerate(filter, func(m ModuleInfo) {
		if fn != nil {
			fn(m)
		}
		s.modules = append(s.modules, m)
	})
	l := Logger().With().Str("driver", s.drv.Name()).Logger()
	if _, err := checkCode(l, s.drv.Thresholds(), code, "Enumerate", filter); err != nil {
		return nil, err
	}
	return s.snapshot(), nil
}

// Modules returns the results of the last scan.
func (s *EnumerationSession) Modules() []ModuleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *EnumerationSession) snapshot() []ModuleInfo {
	out := make([]ModuleInfo, len(s.modules))
	copy(out, s.modules)
	return out
}
