// Package config loads device and channel settings from a TOML file.
//
//	[device]
//	driver = "ucan"
//	serial = 12345
//
//	[[channel]]
//	index = 0
//	btr = 0x001C
//	mode = ["listen-only"]
//	tx_timeout = "500ms"
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/roffe/canhw"
)

var ErrInvalid = errors.New("invalid configuration")

type fileConfig struct {
	Device   deviceTable    `toml:"device"`
	Channels []channelTable `toml:"channel"`
}

type deviceTable struct {
	Driver          string            `toml:"driver"`
	Index           int64             `toml:"index"`
	Serial          int64             `toml:"serial"`
	Library         string            `toml:"library"`
	Port            string            `toml:"port"`
	PortBaudrate    int               `toml:"port_baudrate"`
	MinimumFirmware string            `toml:"minimum_firmware"`
	Debug           bool              `toml:"debug"`
	Options         map[string]string `toml:"options"`
}

// Pointer fields distinguish unset keys from zero per table.
type channelTable struct {
	Index           *int64   `toml:"index"`
	Mode            []string `toml:"mode"`
	Bitrate         *int64   `toml:"bitrate"`
	BTR             *int64   `toml:"btr"`
	OCR             *int64   `toml:"ocr"`
	AMR             *int64   `toml:"amr"`
	ACR             *int64   `toml:"acr"`
	BaudrateEx      *int64   `toml:"baudrate_ex"`
	RxBufferEntries *int64   `toml:"rx_buffer_entries"`
	TxBufferEntries *int64   `toml:"tx_buffer_entries"`
	TxTimeout       string   `toml:"tx_timeout"`
}

// Channel is one [[channel]] table converted to library types.
type Channel struct {
	Channel canhw.Channel
	Config  canhw.ChannelConfig
}

// Config is the resolved content of a configuration file.
type Config struct {
	// Driver is the registry name, empty when the file does not set one.
	Driver       string
	Selector     canhw.Selector
	DriverConfig canhw.DriverConfig
	Channels     []Channel
}

var modeNames = map[string]canhw.Mode{
	"normal":         canhw.ModeNormal,
	"listen-only":    canhw.ModeListenOnly,
	"tx-echo":        canhw.ModeTxEcho,
	"rx-order-ch":    canhw.ModeRxOrderCh,
	"high-res-timer": canhw.ModeHighResTimer,
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return resolve(raw, meta)
}

// Parse is Load for in-memory content.
func Parse(data string) (*Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return resolve(raw, meta)
}

func resolve(raw fileConfig, meta toml.MetaData) (*Config, error) {
	if keys := meta.Undecoded(); len(keys) > 0 {
		return nil, fmt.Errorf("%w: unknown key %s", ErrInvalid, keys[0])
	}
	sel, err := resolveSelector(raw.Device, meta)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		Driver:   strings.TrimSpace(raw.Device.Driver),
		Selector: sel,
	}
	cfg.DriverConfig = canhw.DriverConfig{
		Debug:                  raw.Device.Debug,
		Library:                raw.Device.Library,
		Port:                   raw.Device.Port,
		PortBaudrate:           raw.Device.PortBaudrate,
		MinimumFirmwareVersion: raw.Device.MinimumFirmware,
		AdditionalConfig:       raw.Device.Options,
	}
	if v := cfg.DriverConfig.MinimumFirmwareVersion; v != "" && !strings.HasPrefix(v, "v") {
		cfg.DriverConfig.MinimumFirmwareVersion = "v" + v
	}

	seen := make(map[canhw.Channel]bool)
	for i, ct := range raw.Channels {
		ch, err := resolveChannel(ct, i)
		if err != nil {
			return nil, err
		}
		if seen[ch.Channel] {
			return nil, fmt.Errorf("%w: [[channel]] #%d: %s defined twice", ErrInvalid, i, ch.Channel)
		}
		seen[ch.Channel] = true
		cfg.Channels = append(cfg.Channels, ch)
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = []Channel{{Channel: canhw.Channel0, Config: canhw.DefaultChannelConfig()}}
	}
	return cfg, nil
}

func resolveSelector(d deviceTable, meta toml.MetaData) (canhw.Selector, error) {
	hasIndex := meta.IsDefined("device", "index")
	hasSerial := meta.IsDefined("device", "serial")
	switch {
	case hasIndex && hasSerial:
		return canhw.Selector{}, fmt.Errorf("%w: [device]: index and serial are exclusive", ErrInvalid)
	case hasSerial:
		if d.Serial < 0 || d.Serial > 0xFFFFFFFF {
			return canhw.Selector{}, fmt.Errorf("%w: [device]: serial %d out of range", ErrInvalid, d.Serial)
		}
		return canhw.BySerial(uint32(d.Serial)), nil
	case hasIndex:
		if d.Index < 0 || d.Index > canhw.AnyModule {
			return canhw.Selector{}, fmt.Errorf("%w: [device]: index %d out of range", ErrInvalid, d.Index)
		}
		return canhw.ByIndex(int(d.Index)), nil
	}
	return canhw.ByIndex(canhw.AnyModule), nil
}

// resolveChannel applies the table at position i on top of
// canhw.DefaultChannelConfig. A table without index configures channel i.
func resolveChannel(ct channelTable, i int) (Channel, error) {
	where := fmt.Sprintf("[[channel]] #%d", i)
	bad := func(format string, args ...any) (Channel, error) {
		return Channel{}, fmt.Errorf("%w: %s: %s", ErrInvalid, where, fmt.Sprintf(format, args...))
	}
	cfg := canhw.DefaultChannelConfig()

	index := int64(i)
	if ct.Index != nil {
		index = *ct.Index
	}
	if index < 0 || index >= canhw.MaxChannels {
		return bad("index %d out of range", index)
	}
	for _, m := range ct.Mode {
		mode, ok := modeNames[strings.ToLower(strings.TrimSpace(m))]
		if !ok {
			return bad("unknown mode %q", m)
		}
		cfg.Mode |= mode
	}

	fields := []struct {
		key string
		val *int64
		max int64
		set func(int64)
	}{
		{"bitrate", ct.Bitrate, 0xFFFFFFFF, func(v int64) { cfg.Bitrate = uint32(v) }},
		{"btr", ct.BTR, 0xFFFF, func(v int64) { cfg.BTR = uint16(v) }},
		{"ocr", ct.OCR, 0xFF, func(v int64) { cfg.OCR = uint8(v) }},
		{"amr", ct.AMR, 0xFFFFFFFF, func(v int64) { cfg.AMR = uint32(v) }},
		{"acr", ct.ACR, 0xFFFFFFFF, func(v int64) { cfg.ACR = uint32(v) }},
		{"baudrate_ex", ct.BaudrateEx, 0xFFFFFFFF, func(v int64) { cfg.BaudrateEx = uint32(v) }},
		{"rx_buffer_entries", ct.RxBufferEntries, 0xFFFF, func(v int64) { cfg.RxBufferEntries = uint16(v) }},
		{"tx_buffer_entries", ct.TxBufferEntries, 0xFFFF, func(v int64) { cfg.TxBufferEntries = uint16(v) }},
	}
	for _, f := range fields {
		if f.val == nil {
			continue
		}
		if v := *f.val; v < 0 || v > f.max {
			return bad("%s %d out of range", f.key, v)
		}
		f.set(*f.val)
	}

	if ct.TxTimeout != "" {
		d, err := time.ParseDuration(strings.TrimSpace(ct.TxTimeout))
		if err != nil {
			return bad("tx_timeout: %v", err)
		}
		if d < 0 {
			return bad("negative tx_timeout")
		}
		cfg.TxTimeout = d
	}
	return Channel{Channel: canhw.Channel(index), Config: cfg}, nil
}
