package cmd

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/roffe/canhw"
	"github.com/roffe/canhw/pkg/bcm"
	"github.com/spf13/cobra"
)

func init() {
	dumpCmd.Flags().Duration("period", 100*time.Millisecond, "subsequent period of the encoded task")
	dumpCmd.Flags().Duration("initial", 0, "initial period of the encoded task")
	dumpCmd.Flags().Uint32("count", 0, "initial transmissions of the encoded task")
	bcmCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(bcmCmd)
}

var bcmCmd = &cobra.Command{
	Use:   "bcm",
	Short: "broadcast manager helpers",
}

var dumpCmd = &cobra.Command{
	Use:   "dump [<id>#<hex>...]",
	Short: "print the bcm_msg_head layout and optionally an encoded TX_SETUP message",
	Args:  cobra.MaximumNArgs(canhw.MaxCyclicFrames),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(bcm.NativeLayout())
		for _, abi := range []bcm.ABI{bcm.ABI386, bcm.ABIARM, bcm.ABI64} {
			l, err := bcm.LayoutFor(abi)
			if err != nil {
				return err
			}
			fmt.Println(l)
		}
		if len(args) == 0 {
			return nil
		}

		frames, err := parseFrames(args)
		if err != nil {
			return err
		}
		period, _ := cmd.Flags().GetDuration("period")
		initial, _ := cmd.Flags().GetDuration("initial")
		count, _ := cmd.Flags().GetUint32("count")
		task := canhw.PeriodicTask{
			Frames:           frames,
			InitialPeriod:    initial,
			SubsequentPeriod: period,
			Count:            count,
		}
		if err := task.Validate(); err != nil {
			return err
		}
		h, err := bcm.TaskHeader(task, bcm.SetTimer|bcm.StartTimer)
		if err != nil {
			return err
		}
		msg, err := bcm.NativeCodec().Message(h, frames...)
		if err != nil {
			return err
		}
		fmt.Println(h)
		fmt.Print(hex.Dump(msg))
		return nil
	},
}
