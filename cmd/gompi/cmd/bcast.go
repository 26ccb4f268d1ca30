package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/gompi/comm"
	"github.com/sarchlab/gompi/datarecording"
	"github.com/sarchlab/gompi/examples/bcast"
	"github.com/sarchlab/gompi/group"
	"github.com/sarchlab/gompi/launcher"
	"github.com/sarchlab/gompi/monitoring"
	"github.com/sarchlab/gompi/tracing"
)

type bcastFlags struct {
	local       bool
	size        int
	hostfile    string
	envFile     string
	monitor     bool
	monitorPort int
	open        bool
	trace       string
	verbose     bool
}

var bcastOpts bcastFlags

var bcastCmd = &cobra.Command{
	Use:   "bcast",
	Short: "Run the broadcast program.",
	Long: `Run the broadcast program. Rank 0 sends {'a': 7, 'b': 3.14} to ` +
		`every rank with tag 11 and every other rank prints what it got. ` +
		`Without --local, the command runs as one rank of a group described ` +
		`by the environment, an env file, or a hostfile.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if bcastOpts.local {
			return runLocalBcast(ctx, bcastOpts, cmd.OutOrStdout())
		}

		return runRankBcast(ctx, bcastOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := bcastCmd.Flags()
	f.BoolVar(&bcastOpts.local, "local", false,
		"Run the whole group inside this process.")
	f.IntVarP(&bcastOpts.size, "np", "n", 4,
		"Number of ranks when running with --local.")
	f.StringVar(&bcastOpts.hostfile, "hostfile", "",
		"A .toml or .yaml file listing the peer addresses.")
	f.StringVar(&bcastOpts.envFile, "env-file", "",
		"A .env file with GOMPI_* variables.")
	f.BoolVar(&bcastOpts.monitor, "monitor", false,
		"Serve the state of the communicators over HTTP.")
	f.IntVar(&bcastOpts.monitorPort, "monitor-port", 0,
		"Port of the monitor. Rank i uses monitor-port+i.")
	f.BoolVar(&bcastOpts.open, "open", false,
		"Open the monitor in a browser.")
	f.StringVar(&bcastOpts.trace, "trace", "",
		"Record the requests into <trace>_rank<i>.sqlite3.")
	f.BoolVarP(&bcastOpts.verbose, "verbose", "v", false,
		"Log every request and message to stderr.")

	rootCmd.AddCommand(bcastCmd)
}

func rankConfig(opts bcastFlags) (group.Config, error) {
	if opts.envFile != "" {
		err := group.LoadEnvFile(opts.envFile)
		if err != nil {
			return group.Config{}, err
		}
	}

	cfg := group.DefaultConfig()
	if opts.hostfile != "" {
		var err error

		cfg, err = group.LoadHostfile(opts.hostfile)
		if err != nil {
			return group.Config{}, err
		}
	}

	cfg, err := cfg.ApplyEnv()
	if err != nil {
		return group.Config{}, err
	}

	if opts.monitorPort != 0 {
		cfg.MonitorPort = opts.monitorPort
	}

	if opts.trace != "" {
		cfg.TraceFile = opts.trace
	}

	return cfg, nil
}

func runRankBcast(ctx context.Context, opts bcastFlags, out io.Writer) error {
	cfg, err := rankConfig(opts)
	if err != nil {
		return err
	}

	builder := group.MakeBuilder().WithConfig(cfg)
	if opts.monitor || opts.open {
		builder = builder.WithMonitor()
	}

	if opts.verbose {
		builder = builder.WithLogger(log.New(os.Stderr, "", log.LstdFlags))
	}

	w, err := builder.Build()
	if err != nil {
		return err
	}

	var runOpts []bcast.Option

	if w.Monitor != nil {
		openMonitor(w.Monitor, opts)

		bar := w.Monitor.CreateProgressBar("Broadcast", uint64(cfg.Size))
		defer w.Monitor.CompleteProgressBar(bar)

		runOpts = append(runOpts, bcast.WithProgress(bar))
	}

	err = bcast.Run(ctx, w.Comm, out, runOpts...)

	return errors.Join(err, w.Terminate())
}

func runLocalBcast(ctx context.Context, opts bcastFlags, out io.Writer) error {
	l, err := group.NewLocal(opts.size)
	if err != nil {
		return err
	}

	var runOpts []bcast.Option

	if opts.monitor || opts.open || opts.monitorPort != 0 {
		m := monitoring.NewMonitor().WithPortNumber(opts.monitorPort)
		for _, c := range l.Comms {
			m.RegisterComm(c)
		}

		m.StartServer()
		defer m.Close()

		openMonitor(m, opts)

		bar := m.CreateProgressBar("Broadcast", uint64(opts.size))
		defer m.CompleteProgressBar(bar)

		runOpts = append(runOpts, bcast.WithProgress(bar))
	}

	if opts.verbose {
		logger := comm.NewMsgLogger(log.New(os.Stderr, "", log.LstdFlags))
		for _, c := range l.Comms {
			c.AcceptHook(logger)
		}
	}

	var tracer *tracing.DBTracer

	if opts.trace != "" {
		recorder := datarecording.New(opts.trace)
		defer recorder.Close()

		tracer = tracing.NewDBTracer(tracing.WallClock{}, recorder)
		for _, c := range l.Comms {
			tracing.CollectTrace(c, tracer)
		}
	}

	var outLock sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range l.Comms {
		c := c
		g.Go(func() error {
			lines := launcher.NewLineWriter(out, &outLock)

			err := bcast.Run(gctx, c, lines, runOpts...)
			err = errors.Join(err, lines.Flush())
			if err != nil {
				return fmt.Errorf("%s: %w", c.Name(), err)
			}

			return nil
		})
	}

	err = errors.Join(g.Wait(), l.Close())

	if tracer != nil {
		tracer.Terminate()
	}

	return err
}

func openMonitor(m *monitoring.Monitor, opts bcastFlags) {
	if !opts.open {
		return
	}

	err := m.OpenInBrowser()
	if err != nil {
		log.Printf("cannot open monitor: %v", err)
	}
}
