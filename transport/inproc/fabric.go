// Package inproc provides a transport that connects communicators living in
// the same process. It lets one test or one process run a whole group.
package inproc

import (
	"context"
	"fmt"
	"sync"

	"github.com/sarchlab/gompi/comm"
)

// Fabric connects the endpoints of a group without latency. A message is
// handed to the destination communicator on the sender's goroutine.
type Fabric struct {
	lock sync.RWMutex
	name string
	ends []comm.Deliverer
}

// Name returns the name of the fabric.
func (f *Fabric) Name() string {
	return f.name
}

// Size returns the number of ranks the fabric connects.
func (f *Fabric) Size() int {
	return len(f.ends)
}

// Endpoint returns the transport of the given rank.
func (f *Fabric) Endpoint(rank comm.Rank) comm.Transport {
	if rank < 0 || int(rank) >= len(f.ends) {
		panic(fmt.Sprintf("fabric %s has no rank %d", f.name, rank))
	}

	return &endpoint{fabric: f, rank: rank}
}

func (f *Fabric) plugIn(rank comm.Rank, d comm.Deliverer) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if f.ends[rank] != nil {
		return fmt.Errorf("%w: rank %d already attached to %s",
			comm.ErrTransport, rank, f.name)
	}

	f.ends[rank] = d

	return nil
}

func (f *Fabric) unplug(rank comm.Rank) {
	f.lock.Lock()
	defer f.lock.Unlock()

	f.ends[rank] = nil
}

func (f *Fabric) forward(ctx context.Context, msg *comm.Msg) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", comm.ErrTransport, err)
	}

	if msg.Dst < 0 || int(msg.Dst) >= len(f.ends) {
		return fmt.Errorf("%w: %s has no rank %d",
			comm.ErrTransport, f.name, msg.Dst)
	}

	f.lock.RLock()
	dst := f.ends[msg.Dst]
	f.lock.RUnlock()

	if dst == nil {
		return fmt.Errorf("%w: rank %d is not attached to %s",
			comm.ErrTransport, msg.Dst, f.name)
	}

	return dst.Deliver(msg)
}

type endpoint struct {
	fabric *Fabric
	rank   comm.Rank

	lock   sync.Mutex
	closed bool
}

// Attach plugs the communicator of the endpoint's rank into the fabric.
func (e *endpoint) Attach(rank comm.Rank, d comm.Deliverer) error {
	if rank != e.rank {
		return fmt.Errorf("%w: endpoint of rank %d cannot attach rank %d",
			comm.ErrTransport, e.rank, rank)
	}

	return e.fabric.plugIn(rank, d)
}

// Send hands the message to the destination communicator.
func (e *endpoint) Send(ctx context.Context, msg *comm.Msg) error {
	e.lock.Lock()
	closed := e.closed
	e.lock.Unlock()

	if closed {
		return fmt.Errorf("%w: endpoint of rank %d is closed",
			comm.ErrTransport, e.rank)
	}

	return e.fabric.forward(ctx, msg)
}

// Close unplugs the endpoint's rank from the fabric.
func (e *endpoint) Close() error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.closed {
		return nil
	}

	e.closed = true
	e.fabric.unplug(e.rank)

	return nil
}
