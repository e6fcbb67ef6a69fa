package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var wipeAllCmd = &cobra.Command{
	Use:   "wipe-all",
	Short: "remove every stored message and contact, stop the overlay, and clear the lock file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := bringUpEngine(cmd.Context())
		if err != nil {
			return err
		}
		if err := eng.Wipe(); err != nil {
			return err
		}
		eng.Shutdown()
		fmt.Println("wiped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(wipeAllCmd)
}
