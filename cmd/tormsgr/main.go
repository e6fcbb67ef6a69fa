// Command tormsgr is the non-interactive CLI surface for the messenger
// core: one process invocation per subcommand, no REPL.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tormsgr",
	Short: "serverless, peer-to-peer messaging over a hidden-service overlay",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
