package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// quitCmd exists for parity with the external CLI surface named in
// SPEC_FULL.md §6 (add-contact, send-text, list-contacts, status, wipe-all,
// quit). Since this dispatcher is non-interactive — one process per command,
// no REPL — there is no running session to terminate; quit simply brings
// the overlay up and back down cleanly, confirming a clean stop is possible.
var quitCmd = &cobra.Command{
	Use:   "quit",
	Short: "bring the overlay transport up and back down cleanly",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := bringUpEngine(cmd.Context())
		if err != nil {
			return err
		}
		if err := eng.Shutdown(); err != nil {
			return err
		}
		fmt.Println("stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(quitCmd)
}
