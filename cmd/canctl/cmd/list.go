package cmd

import (
	"errors"
	"fmt"

	"github.com/roffe/canhw"
	"github.com/spf13/cobra"
)

func init() {
	listCmd.Flags().Bool("all", false, "include units already in use")
	rootCmd.AddCommand(listCmd)
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "list drivers and attached hardware",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Drivers:")
		for _, d := range canhw.ListDrivers() {
			fmt.Println("  " + d.String())
		}

		cfg, err := settings(cmd)
		if err != nil {
			return err
		}
		drv, err := canhw.NewDriver(cfg.Driver, &cfg.DriverConfig)
		if err != nil {
			return err
		}
		en, err := canhw.NewEnumeration(drv)
		if errors.Is(err, canhw.ErrNotSupported) {
			fmt.Printf("%s cannot enumerate hardware\n", cfg.Driver)
			return nil
		}
		if err != nil {
			return err
		}
		filter := canhw.AllModules()
		filter.IncludeUsed, _ = cmd.Flags().GetBool("all")

		fmt.Printf("Hardware (%s):\n", cfg.Driver)
		mods, err := en.ScanFunc(filter, func(m canhw.ModuleInfo) {
			fmt.Println("  " + m.String())
		})
		if err != nil {
			return err
		}
		if len(mods) == 0 {
			fmt.Println("  none found")
		}
		return nil
	},
}
