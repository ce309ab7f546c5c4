package cmd

import (
	"fmt"
	"time"

	"github.com/roffe/canhw"
	"github.com/roffe/canhw/pkg/bar"
	"github.com/spf13/cobra"
)

func init() {
	f := cyclicCmd.Flags()
	f.Uint8(flagChannel, 0, "channel to transmit on")
	f.Duration("period", 100*time.Millisecond, "period once the initial phase is over")
	f.Duration("initial", 0, "period of the first --count transmissions")
	f.Uint32("count", 0, "number of transmissions at the initial period")
	f.Duration("duration", 10*time.Second, "how long to keep the task running")
	f.Bool("sequence", false, "send one list entry per period instead of the whole list")
	rootCmd.AddCommand(cyclicCmd)
}

var cyclicCmd = &cobra.Command{
	Use:   "cyclic <id>#<hex> [<id>#<hex>...]",
	Short: "let the hardware transmit frames periodically for a while",
	Args:  cobra.RangeArgs(1, canhw.MaxCyclicFrames),
	RunE: func(cmd *cobra.Command, args []string) error {
		frames, err := parseFrames(args)
		if err != nil {
			return err
		}
		f := cmd.Flags()
		period, _ := f.GetDuration("period")
		initial, _ := f.GetDuration("initial")
		count, _ := f.GetUint32("count")
		duration, _ := f.GetDuration("duration")
		sequence, _ := f.GetBool("sequence")

		ctx := cmd.Context()
		s, err := openSession(ctx, cmd, canhw.Hooks{}, true)
		if err != nil {
			return err
		}
		defer s.close()

		ch := s.channel(cmd)
		task := canhw.PeriodicTask{
			Channel:          ch,
			Frames:           frames,
			InitialPeriod:    initial,
			SubsequentPeriod: period,
			Count:            count,
		}
		if err := s.dev.DefineCyclic(task); err != nil {
			return err
		}
		flags := canhw.CyclicStart
		if sequence {
			flags |= canhw.CyclicSequenceMode
		}
		if err := s.dev.EnableCyclic(ch, flags); err != nil {
			return err
		}
		defer func() {
			if err := s.dev.StopCyclic(ch); err != nil {
				s.log.Error().Err(err).Msg("stop cyclic")
			}
		}()

		if defined, err := s.dev.ReadCyclic(ch); s.optional("read cyclic", err) {
			for _, fr := range defined {
				fmt.Println(fr.String())
			}
		}

		b := bar.New(bar.Steps(duration), fmt.Sprintf("cyclic %s", ch))
		ticker := time.NewTicker(bar.Step)
		defer ticker.Stop()
		deadline := time.After(duration)
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-deadline:
				b.Finish()
				break loop
			case <-ticker.C:
				b.Add(1)
			}
		}
		fmt.Println()

		if sent, _, err := s.dev.MessageCounts(ch); s.optional("message counts", err) {
			fmt.Printf("%s sent %d frames\n", ch, sent)
		}
		return nil
	},
}
