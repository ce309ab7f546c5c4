package cmd

import (
	"fmt"

	"github.com/roffe/canhw"
	"github.com/spf13/cobra"
)

func init() {
	statusCmd.Flags().Bool("reset", false, "reset the controller and counters after reading")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "print status, counters and queue depth of every configured channel",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd, canhw.Hooks{}, true)
		if err != nil {
			return err
		}
		defer s.close()
		reset, _ := cmd.Flags().GetBool("reset")

		for _, ch := range s.channels() {
			fmt.Printf("%s:\n", ch)
			st, err := s.dev.Status(ch)
			if s.optional("status", err) {
				fmt.Printf("  status:   %s\n", st)
			}
			sent, recv, err := s.dev.MessageCounts(ch)
			if s.optional("message counts", err) {
				fmt.Printf("  messages: %d sent, %d received\n", sent, recv)
			}
			tx, rx, err := s.dev.ErrorCounters(ch)
			if s.optional("error counters", err) {
				fmt.Printf("  errors:   tx %d, rx %d\n", tx, rx)
			}
			rxq, err := s.dev.Pending(ch, canhw.PendingRxAll)
			if s.optional("pending", err) {
				txq, _ := s.dev.Pending(ch, canhw.PendingTxAll)
				fmt.Printf("  pending:  rx %d, tx %d\n", rxq, txq)
			}
			if reset {
				if s.optional("reset", s.dev.ResetChannel(ch, canhw.ResetAll)) {
					fmt.Println("  reset")
				}
			}
		}
		return nil
	},
}
