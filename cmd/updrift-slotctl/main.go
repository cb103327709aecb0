// updrift-slotctl is a read-only operator CLI for the agent's diagnostics
// API: slot layout, boot record, session status and update history.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "updrift-slotctl",
	Short:         "Inspect an updrift agent's slots, boot record and update sessions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
