package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/roffe/canhw"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	f := monitorCmd.Flags()
	f.Bool("no-color", false, "plain output")
	f.Duration("timeout", 100*time.Millisecond, "read timeout per poll")
	rootCmd.AddCommand(monitorCmd)
}

var (
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "print received frames and status events until Ctrl-C",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if noColor, _ := cmd.Flags().GetBool("no-color"); noColor {
			color.NoColor = true
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")

		g, ctx := errgroup.WithContext(cmd.Context())
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		var s *session
		hooks := canhw.Hooks{
			OnStatusChanged: func(ch canhw.Channel) {
				st, err := s.dev.Status(ch)
				if err != nil {
					fmt.Println(yellow(fmt.Sprintf("%s status changed", ch)))
					return
				}
				fmt.Println(yellow(fmt.Sprintf("%s status: %s", ch, st)))
			},
			OnChannelClosed: func(ch canhw.Channel) {
				fmt.Println(yellow(fmt.Sprintf("%s closed", ch)))
			},
			OnFatalDisconnect: func(id uint32) {
				if s.dev.MatchesHandle(id) {
					fmt.Println(yellow("device disconnected"))
					cancel()
				}
			},
			OnError: func(err error) {
				fmt.Println(yellow(err.Error()))
				cancel()
			},
		}
		s, err := openSession(ctx, cmd, hooks, true)
		if err != nil {
			return err
		}
		defer s.close()

		g.Go(func() error {
			err := s.disp.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			defer s.disp.Close()
			return monitor(ctx, s.dev, timeout)
		})
		return g.Wait()
	},
}

func monitor(ctx context.Context, dev *canhw.Device, timeout time.Duration) error {
	start := time.Now()
	for ctx.Err() == nil {
		frames, ch, err := dev.Read(canhw.ChannelAny, 0, timeout)
		if err != nil {
			return err
		}
		for _, f := range frames {
			ts := f.Timestamp
			if ts == 0 {
				ts = time.Since(start)
			}
			fmt.Printf("%s %s %s\n", cyan(fmt.Sprintf("%10.3f", ts.Seconds())), ch, f.ColorString())
		}
	}
	return nil
}
