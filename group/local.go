package group

import (
	"errors"
	"fmt"

	"github.com/sarchlab/gompi/comm"
	"github.com/sarchlab/gompi/transport/inproc"
)

// Local is a whole group living in one process.
type Local struct {
	Comms  []*comm.Comm
	Fabric *inproc.Fabric
}

// NewLocal creates a group of the given size connected by an in-process
// fabric.
func NewLocal(size int) (*Local, error) {
	if size < 1 {
		return nil, fmt.Errorf("group size must be positive, got %d", size)
	}

	l := &Local{
		Comms:  make([]*comm.Comm, 0, size),
		Fabric: inproc.MakeBuilder().WithSize(size).Build("Fabric"),
	}

	for i := 0; i < size; i++ {
		rank := comm.Rank(i)

		c, err := comm.MakeBuilder().
			WithRank(rank).
			WithSize(size).
			WithTransport(l.Fabric.Endpoint(rank)).
			Build(fmt.Sprintf("Rank%d", rank))
		if err != nil {
			return nil, errors.Join(err, l.Close())
		}

		l.Comms = append(l.Comms, c)
	}

	return l, nil
}

// Close closes all the communicators.
func (l *Local) Close() error {
	var errs []error
	for _, c := range l.Comms {
		errs = append(errs, c.Close())
	}

	return errors.Join(errs...)
}
