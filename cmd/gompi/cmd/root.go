// Package cmd provides the command-line interface of gompi.
package cmd

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gompi",
	Short: "gompi runs message passing programs over a group of processes.",
	Long: `gompi runs message passing programs over a group of processes. ` +
		`It can launch a group on the local machine, run the broadcast ` +
		`program as one rank of a group, and summarize request traces.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It exits the process after flushing the recorders.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		log.Print(err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
