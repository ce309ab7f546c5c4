package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roffe/canhw"
)

const full = `
[device]
driver = "ucan"
serial = 12345
library = "/opt/usbcan/libusbcan.so"
minimum_firmware = "5.2.0"

[device.options]
foo = "bar"

[[channel]]
index = 1
mode = ["listen-only", "tx-echo"]
btr = 0x001C
amr = 0
acr = 0x00246000
rx_buffer_entries = 1024
tx_timeout = "250ms"

[[channel]]
index = 0
bitrate = 500000
`

func TestParseFull(t *testing.T) {
	cfg, err := Parse(full)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Driver != "ucan" {
		t.Errorf("driver %q", cfg.Driver)
	}
	if sn, ok := cfg.Selector.Serial(); !ok || sn != 12345 {
		t.Errorf("selector %s", cfg.Selector)
	}
	dc := cfg.DriverConfig
	if dc.Library != "/opt/usbcan/libusbcan.so" || dc.MinimumFirmwareVersion != "v5.2.0" || dc.AdditionalConfig["foo"] != "bar" {
		t.Errorf("driver config %+v", dc)
	}
	if len(cfg.Channels) != 2 {
		t.Fatalf("%d channels", len(cfg.Channels))
	}

	ch1 := cfg.Channels[0]
	if ch1.Channel != canhw.Channel1 {
		t.Errorf("first table is %s", ch1.Channel)
	}
	c := ch1.Config
	if c.Mode != canhw.ModeListenOnly|canhw.ModeTxEcho {
		t.Errorf("mode 0x%02X", c.Mode)
	}
	if c.BTR != 0x001C || c.AMR != 0 || c.ACR != 0x00246000 {
		t.Errorf("timing/filter %+v", c)
	}
	if c.RxBufferEntries != 1024 || c.TxBufferEntries != canhw.DefaultBufferEntries {
		t.Errorf("buffers %d/%d", c.RxBufferEntries, c.TxBufferEntries)
	}
	if c.TxTimeout != 250*time.Millisecond {
		t.Errorf("tx timeout %s", c.TxTimeout)
	}

	c0 := cfg.Channels[1].Config
	def := canhw.DefaultChannelConfig()
	def.Bitrate = 500000
	if c0 != def {
		t.Errorf("channel 0 %+v, want %+v", c0, def)
	}
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Driver != "" {
		t.Errorf("driver %q", cfg.Driver)
	}
	if n, ok := cfg.Selector.Index(); !ok || n != canhw.AnyModule {
		t.Errorf("selector %s", cfg.Selector)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0].Channel != canhw.Channel0 || cfg.Channels[0].Config != canhw.DefaultChannelConfig() {
		t.Errorf("channels %+v", cfg.Channels)
	}
}

func TestParseIndex(t *testing.T) {
	cfg, err := Parse("[device]\nindex = 0\n[[channel]]\n[[channel]]\n")
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := cfg.Selector.Index(); !ok || n != 0 {
		t.Errorf("selector %s", cfg.Selector)
	}
	if cfg.Channels[0].Channel != canhw.Channel0 || cfg.Channels[1].Channel != canhw.Channel1 {
		t.Errorf("positional channels %v %v", cfg.Channels[0].Channel, cfg.Channels[1].Channel)
	}
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		msg  string
	}{
		{"index and serial", "[device]\nindex = 1\nserial = 2\n", "[device]"},
		{"negative serial", "[device]\nserial = -1\n", "serial"},
		{"index too large", "[device]\nindex = 256\n", "index 256"},
		{"unknown key", "[device]\nbogus = 1\n", "device.bogus"},
		{"channel out of range", "[[channel]]\nindex = 2\n", "[[channel]] #0"},
		{"duplicate channel", "[[channel]]\nindex = 0\n[[channel]]\nindex = 0\n", "defined twice"},
		{"unknown mode", "[[channel]]\nmode = [\"silent\"]\n", "unknown mode"},
		{"btr too large", "[[channel]]\nbtr = 0x10000\n", "btr"},
		{"ocr too large", "[[channel]]\nocr = 256\n", "ocr"},
		{"negative bitrate", "[[channel]]\nbitrate = -5\n", "bitrate"},
		{"bad timeout", "[[channel]]\ntx_timeout = \"soon\"\n", "tx_timeout"},
		{"negative timeout", "[[channel]]\ntx_timeout = \"-1s\"\n", "tx_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("got %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("%q does not mention %q", err, tt.msg)
			}
		})
	}
}

func TestParseSyntaxError(t *testing.T) {
	if _, err := Parse("[device\n"); err == nil || errors.Is(err, ErrInvalid) {
		t.Errorf("got %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canhw.toml")
	if err := os.WriteFile(path, []byte(full), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Driver != "ucan" || len(cfg.Channels) != 2 {
		t.Errorf("%+v", cfg)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file loaded")
	}
}
