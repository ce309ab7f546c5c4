package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/roffe/canhw"
)

func TestSettingsFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "canctl.toml")
	file := "[device]\ndriver = \"ucan\"\nindex = 2\nport_baudrate = 9600\n[[channel]]\nindex = 1\n"
	if err := os.WriteFile(path, []byte(file), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := rootCmd.ParseFlags([]string{"--config", path, "--serial", "777", "--port", "can0,can1"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := settings(rootCmd)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Driver != "ucan" {
		t.Errorf("driver %q, file value expected", cfg.Driver)
	}
	if sn, ok := cfg.Selector.Serial(); !ok || sn != 777 {
		t.Errorf("selector %s", cfg.Selector)
	}
	if cfg.DriverConfig.Port != "can0,can1" || cfg.DriverConfig.PortBaudrate != 9600 {
		t.Errorf("driver config %+v", cfg.DriverConfig)
	}
	if len(cfg.Channels) != 1 || cfg.Channels[0].Channel != canhw.Channel1 {
		t.Errorf("channels %+v", cfg.Channels)
	}
}

func TestParseFrames(t *testing.T) {
	frames, err := parseFrames([]string{"123#01", "1ABCDEF0#R"})
	if err != nil {
		t.Fatal(err)
	}
	if len(frames) != 2 || !frames[1].Extended() || !frames[1].Remote() {
		t.Errorf("%v", frames)
	}
	if _, err := parseFrames([]string{"123#01", "nope"}); !errors.Is(err, canhw.ErrInvalidFrame) {
		t.Errorf("got %v", err)
	}
}
