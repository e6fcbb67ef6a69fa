package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listContactsCmd = &cobra.Command{
	Use:   "list-contacts",
	Short: "print every known contact",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, _, err := bringUpEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer eng.Shutdown()

		contacts, err := eng.ListContacts()
		if err != nil {
			return err
		}
		if len(contacts) == 0 {
			fmt.Println("no contacts")
			return nil
		}
		for _, c := range contacts {
			fmt.Printf("%s  %s\n", c.Address, c.Nickname)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listContactsCmd)
}
