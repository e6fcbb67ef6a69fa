package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "report the overlay transport's lifecycle state and local address",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := bringUpEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Shutdown()

		state, addr := eng.Status()
		fmt.Printf("state: %s\n", state)
		fmt.Printf("address: %s\n", addr)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
