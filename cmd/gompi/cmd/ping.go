package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/gompi/comm"
	"github.com/sarchlab/gompi/examples/ping"
	"github.com/sarchlab/gompi/group"
	"github.com/sarchlab/gompi/tracing"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Bounce messages between rank 0 and rank 1.",
	Long: `Bounce messages between rank 0 and rank 1 and report the round ` +
		`trip time and the average send latency. Without --local, the ` +
		`command runs as one rank of a group described by the environment.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		local, _ := cmd.Flags().GetBool("local")
		rounds, _ := cmd.Flags().GetInt("rounds")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if local {
			return runLocalPing(ctx, rounds, cmd.OutOrStdout())
		}

		return runRankPing(ctx, rounds, cmd.OutOrStdout())
	},
}

func init() {
	pingCmd.Flags().Bool("local", false,
		"Run both ranks inside this process.")
	pingCmd.Flags().Int("rounds", 100, "Number of round trips.")

	rootCmd.AddCommand(pingCmd)
}

func reportPing(
	out io.Writer,
	res ping.Result,
	sends *tracing.AverageTimeTracer,
) error {
	_, err := fmt.Fprintf(out, "%s, %d sends avg %v\n",
		res, sends.TotalCount(), sends.AverageTime())

	return err
}

func runLocalPing(ctx context.Context, rounds int, out io.Writer) error {
	l, err := group.NewLocal(2)
	if err != nil {
		return err
	}

	sends := tracing.NewAverageTimeTracer(
		tracing.WallClock{}, tracing.KindFilter("send"))
	tracing.CollectTrace(l.Comms[0], sends)

	var res ping.Result

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range l.Comms {
		c := c
		g.Go(func() error {
			r, err := ping.Run(gctx, c, rounds)
			if c.Rank() == 0 {
				res = r
			}

			return err
		})
	}

	err = errors.Join(g.Wait(), l.Close())
	if err != nil {
		return err
	}

	return reportPing(out, res, sends)
}

func runRankPing(ctx context.Context, rounds int, out io.Writer) error {
	cfg, err := group.FromEnv()
	if err != nil {
		return err
	}

	w, err := group.MakeBuilder().WithConfig(cfg).Build()
	if err != nil {
		return err
	}

	sends := tracing.NewAverageTimeTracer(
		tracing.WallClock{}, tracing.KindFilter("send"))
	tracing.CollectTrace(w.Comm, sends)

	res, err := ping.Run(ctx, w.Comm, rounds)
	err = errors.Join(err, w.Terminate())

	if err != nil || w.Comm.Rank() != comm.Root {
		return err
	}

	return reportPing(out, res, sends)
}
