// Package launcher starts the ranks of a group as local processes.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sarchlab/gompi/comm"
	"github.com/sarchlab/gompi/group"
)

// DefaultBasePort is the port of rank 0 when no base port is given.
const DefaultBasePort = 5000

// Spec describes a group of processes to launch.
type Spec struct {
	// Size is the number of processes.
	Size int

	// Program is the executable that every process runs.
	Program string

	// Args are passed to every process.
	Args []string

	// Host is the address the ranks listen on. Defaults to localhost.
	Host string

	// BasePort is the port of rank 0. Rank i listens on BasePort+i.
	BasePort int

	// DialTimeout is how long a rank waits for its peers to come up.
	DialTimeout time.Duration

	// Env is added to the environment of every process.
	Env []string

	// Stdout and Stderr receive the output of the processes, line by line.
	// They default to the output of the launcher.
	Stdout io.Writer
	Stderr io.Writer
}

// Peers returns the addresses of a group of processes on one host.
func Peers(host string, basePort, size int) []string {
	peers := make([]string, size)
	for i := range peers {
		peers[i] = net.JoinHostPort(host, strconv.Itoa(basePort+i))
	}

	return peers
}

func (s Spec) withDefaults() Spec {
	if s.Host == "" {
		s.Host = "localhost"
	}

	if s.BasePort == 0 {
		s.BasePort = DefaultBasePort
	}

	if s.DialTimeout == 0 {
		s.DialTimeout = group.DefaultDialTimeout
	}

	if s.Stdout == nil {
		s.Stdout = os.Stdout
	}

	if s.Stderr == nil {
		s.Stderr = os.Stderr
	}

	return s
}

// Launch runs the processes and waits for all of them to exit. If a process
// fails, the others are killed and the first failure is returned.
func Launch(ctx context.Context, spec Spec) error {
	spec = spec.withDefaults()

	if spec.Size < 1 {
		return fmt.Errorf("number of processes must be positive, got %d",
			spec.Size)
	}

	if spec.Program == "" {
		return errors.New("no program to launch")
	}

	peers := Peers(spec.Host, spec.BasePort, spec.Size)

	var outLock, errLock sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < spec.Size; i++ {
		cfg := group.DefaultConfig()
		cfg.Rank = comm.Rank(i)
		cfg.Size = spec.Size
		cfg.Peers = peers
		cfg.DialTimeout = spec.DialTimeout

		stdout := NewLineWriter(spec.Stdout, &outLock)
		stderr := NewLineWriter(spec.Stderr, &errLock)

		cmd := exec.CommandContext(gctx, spec.Program, spec.Args...)
		cmd.Env = append(append(os.Environ(), spec.Env...), cfg.Environ()...)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		cmd.WaitDelay = time.Second

		g.Go(func() error {
			err := cmd.Run()

			err = errors.Join(err, stdout.Flush(), stderr.Flush())
			if err != nil {
				return fmt.Errorf("rank %d: %w", cfg.Rank, err)
			}

			return nil
		})
	}

	return g.Wait()
}
