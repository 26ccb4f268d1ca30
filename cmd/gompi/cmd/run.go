package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/sarchlab/gompi/group"
	"github.com/sarchlab/gompi/launcher"
)

var runCmd = &cobra.Command{
	Use:   "run -n N [flags] -- program [args...]",
	Short: "Launch a group of N processes on the local machine.",
	Long: `Launch a group of N processes on the local machine. Every process ` +
		`gets GOMPI_RANK, GOMPI_SIZE, and GOMPI_PEERS in its environment. ` +
		`The output of the processes is forwarded line by line.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, _ := cmd.Flags().GetInt("np")
		host, _ := cmd.Flags().GetString("host")
		basePort, _ := cmd.Flags().GetInt("base-port")
		dialTimeout, _ := cmd.Flags().GetDuration("dial-timeout")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		return launcher.Launch(ctx, launcher.Spec{
			Size:        size,
			Program:     args[0],
			Args:        args[1:],
			Host:        host,
			BasePort:    basePort,
			DialTimeout: dialTimeout,
			Stdout:      cmd.OutOrStdout(),
			Stderr:      cmd.ErrOrStderr(),
		})
	},
}

func init() {
	runCmd.Flags().IntP("np", "n", 1, "Number of processes.")
	runCmd.Flags().String("host", "localhost",
		"Address that the processes listen on.")
	runCmd.Flags().Int("base-port", launcher.DefaultBasePort,
		"Port of rank 0. Rank i listens on base-port+i.")
	runCmd.Flags().Duration("dial-timeout", group.DefaultDialTimeout,
		"How long a process waits for its peers to come up.")

	rootCmd.AddCommand(runCmd)
}
