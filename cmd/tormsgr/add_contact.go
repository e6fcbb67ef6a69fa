package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var addContactNickname string

var addContactCmd = &cobra.Command{
	Use:   "add-contact <address>",
	Short: "validate and add a peer address, dispatching an initiating handshake",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := bringUpEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Shutdown()

		if err := eng.AddContact(cmd.Context(), args[0], addContactNickname); err != nil {
			return err
		}
		fmt.Printf("contact added: %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addContactCmd)
	addContactCmd.Flags().StringVar(&addContactNickname, "nickname", "", "optional display name for this contact")
}
