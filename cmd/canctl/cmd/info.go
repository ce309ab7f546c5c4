package cmd

import (
	"fmt"

	"github.com/roffe/canhw"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "print hardware and firmware information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd, canhw.Hooks{}, false)
		if err != nil {
			return err
		}
		defer s.close()

		hi, err := s.dev.HardwareInfo()
		if err != nil {
			return err
		}
		fmt.Printf("Driver:      %s\n", s.dev.Driver().Name())
		if hi.Description != "" {
			fmt.Printf("Description: %s\n", hi.Description)
		}
		fmt.Printf("Device:      %d\n", hi.DeviceNumber)
		fmt.Printf("Serial:      %d\n", hi.Serial)
		fmt.Printf("Firmware:    %s\n", hi.Firmware)
		fmt.Printf("Product:     0x%04X\n", hi.ProductCode)
		fmt.Printf("Channels:    %d\n", hi.Channels)
		fmt.Printf("Cyclic:      %v\n", hi.SupportsCyclic())
		return nil
	},
}
