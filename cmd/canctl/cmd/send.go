package cmd

import (
	"fmt"
	"time"

	"github.com/roffe/canhw"
	"github.com/spf13/cobra"
)

func init() {
	f := sendCmd.Flags()
	f.Uint8(flagChannel, 0, "channel to send on")
	f.Int("repeat", 1, "send the frame list this many times")
	f.Duration("interval", 0, "pause between repeats")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send <id>#<hex> [<id>#<hex>...]",
	Short: "send frames, e.g. 123#DEADBEEF, 1ABCDEF0#00 or 7DF#R",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		frames, err := parseFrames(args)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		s, err := openSession(ctx, cmd, canhw.Hooks{}, true)
		if err != nil {
			return err
		}
		defer s.close()

		ch := s.channel(cmd)
		repeat, _ := cmd.Flags().GetInt("repeat")
		interval, _ := cmd.Flags().GetDuration("interval")
		total := 0
		for i := 0; i < repeat; i++ {
			pending := frames
			for len(pending) > 0 {
				n, err := s.dev.Write(ch, pending...)
				if err != nil {
					return err
				}
				total += n
				pending = pending[n:]
				if n == 0 {
					// transmit buffer full
					time.Sleep(time.Millisecond)
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
			}
			if interval > 0 && i < repeat-1 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(interval):
				}
			}
		}
		fmt.Printf("sent %d frames on %s\n", total, ch)
		return nil
	},
}

func parseFrames(args []string) ([]canhw.Frame, error) {
	frames := make([]canhw.Frame, 0, len(args))
	for _, a := range args {
		f, err := canhw.ParseFrame(a)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}
