package cmd

import (
	"context"
	"runtime"

	"github.com/roffe/canhw"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:          "canctl",
	Short:        "CAN hardware control tool",
	Long:         `Open CAN interfaces through any registered driver, send and monitor frames, run cyclic tasks and inspect status.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := "info"
		if debug, _ := cmd.Flags().GetBool(flagDebug); debug {
			level = "debug"
		}
		canhw.NewConsoleLogger("canctl", level)
	},
}

// Execute runs the command line against ctx, which is cancelled on Ctrl-C.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagDriver   = "driver"
	flagConfig   = "config"
	flagIndex    = "index"
	flagSerial   = "serial"
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagLibrary  = "library"
	flagDebug    = "debug"
	flagChannel  = "channel"
)

func defaultDriver() string {
	if runtime.GOOS == "linux" {
		return "socketcan"
	}
	return "ucan"
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP(flagDriver, "a", defaultDriver(), "driver to use, see 'canctl list'")
	pf.StringP(flagConfig, "c", "", "TOML configuration file")
	pf.IntP(flagIndex, "i", canhw.AnyModule, "device number, 255 = first free")
	pf.Uint32P(flagSerial, "s", 0, "open the unit with this serial number instead of by index")
	pf.StringP(flagPort, "p", "", "serial port or interface list, driver specific")
	pf.IntP(flagBaudrate, "b", 115200, "serial port baudrate")
	pf.String(flagLibrary, "", "path of the vendor shared library")
	pf.BoolP(flagDebug, "d", false, "debug logging")
}
