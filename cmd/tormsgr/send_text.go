package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sendTextCmd = &cobra.Command{
	Use:   "send-text <address> <text>",
	Short: "encrypt and deliver a text message, falling back to offline staging on failure",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := bringUpEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Shutdown()

		staged, err := eng.SendText(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if staged {
			fmt.Println("staged to offline store")
		} else {
			fmt.Println("sent")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendTextCmd)
}
