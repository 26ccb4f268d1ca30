package group

import (
	"errors"
	"fmt"
	"log"

	"github.com/sarchlab/gompi/comm"
	"github.com/sarchlab/gompi/datarecording"
	"github.com/sarchlab/gompi/monitoring"
	"github.com/sarchlab/gompi/tracing"
	"github.com/sarchlab/gompi/transport/wsnet"
)

// A World is the communicator of a process together with the services that
// watch it.
type World struct {
	Comm    *comm.Comm
	Monitor *monitoring.Monitor
	Tracer  *tracing.DBTracer

	recorder datarecording.DataRecorder
}

// Terminate closes the communicator and stops the services.
func (w *World) Terminate() error {
	errs := []error{w.Comm.Close()}

	if w.Tracer != nil {
		w.Tracer.Terminate()
	}

	if w.recorder != nil {
		errs = append(errs, w.recorder.Close())
	}

	if w.Monitor != nil {
		errs = append(errs, w.Monitor.Close())
	}

	return errors.Join(errs...)
}

// Builder can build worlds.
type Builder struct {
	config      Config
	withMonitor bool
	logger      *log.Logger
}

// MakeBuilder creates a builder of a single process world.
func MakeBuilder() Builder {
	return Builder{config: DefaultConfig()}
}

// WithConfig sets the place of the process in its group.
func (b Builder) WithConfig(c Config) Builder {
	b.config = c
	return b
}

// WithMonitor starts a monitor even if no monitor port is configured.
func (b Builder) WithMonitor() Builder {
	b.withMonitor = true
	return b
}

// WithLogger logs every request and message of the communicator.
func (b Builder) WithLogger(logger *log.Logger) Builder {
	b.logger = logger
	return b
}

// Build validates the configuration, starts listening for peers, and creates
// the communicator of the process.
func (b Builder) Build() (*World, error) {
	cfg := b.config

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("Rank%d", cfg.Rank)
	builder := comm.MakeBuilder().
		WithRank(cfg.Rank).
		WithSize(cfg.Size)

	var endpoint *wsnet.Endpoint

	if len(cfg.Peers) > 0 {
		endpoint = wsnet.MakeBuilder().
			WithRank(cfg.Rank).
			WithPeers(cfg.Peers).
			WithListenAddr(cfg.ListenAddr).
			WithDialTimeout(cfg.DialTimeout).
			Build()

		_, err = endpoint.Listen()
		if err != nil {
			return nil, err
		}

		builder = builder.WithTransport(endpoint)
	}

	c, err := builder.Build(name)
	if err != nil {
		if endpoint != nil {
			err = errors.Join(err, endpoint.Close())
		}

		return nil, err
	}

	w := &World{Comm: c}

	if b.logger != nil {
		c.AcceptHook(comm.NewMsgLogger(b.logger))
	}

	if cfg.TraceFile != "" {
		w.recorder = datarecording.New(
			fmt.Sprintf("%s_rank%d", cfg.TraceFile, cfg.Rank))
		w.Tracer = tracing.NewDBTracer(tracing.WallClock{}, w.recorder)
		tracing.CollectTrace(c, w.Tracer)
	}

	if cfg.MonitorPort != 0 || b.withMonitor {
		port := cfg.MonitorPort
		if port != 0 {
			port += int(cfg.Rank)
		}

		w.Monitor = monitoring.NewMonitor().WithPortNumber(port)
		w.Monitor.RegisterComm(c)
		w.Monitor.StartServer()
	}

	return w, nil
}
