package comm

import (
	"context"
	"fmt"

	"github.com/sarchlab/gompi/codec"
)

// Builder can build communicators.
type Builder struct {
	rank          Rank
	size          int
	transport     Transport
	codec         codec.Codec
	unexpectedCap int
}

// MakeBuilder creates a builder for a single-rank group that encodes payloads
// as JSON.
func MakeBuilder() Builder {
	return Builder{
		size:  1,
		codec: codec.NewJSONCodec(),
	}
}

// WithRank sets the rank of the local process.
func (b Builder) WithRank(rank Rank) Builder {
	b.rank = rank
	return b
}

// WithSize sets the number of ranks in the group.
func (b Builder) WithSize(size int) Builder {
	b.size = size
	return b
}

// WithTransport sets the transport that connects the ranks.
func (b Builder) WithTransport(t Transport) Builder {
	b.transport = t
	return b
}

// WithCodec sets the codec that encodes outbound payloads.
func (b Builder) WithCodec(c codec.Codec) Builder {
	b.codec = c
	return b
}

// WithUnexpectedCapacity limits how many messages can wait on one channel
// for a receive. 0, the default, means no limit. Deliveries beyond the limit
// fail with ErrTransport.
func (b Builder) WithUnexpectedCapacity(n int) Builder {
	b.unexpectedCap = n
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.size < 1 {
		panic(fmt.Sprintf("group size must be positive, got %d", b.size))
	}

	if b.rank < 0 || int(b.rank) >= b.size {
		panic(fmt.Sprintf("rank %d is not in [0, %d)", b.rank, b.size))
	}

	if b.codec == nil {
		panic("codec is not given")
	}

	if b.transport == nil && b.size > 1 {
		panic("transport is not given")
	}

	if b.unexpectedCap < 0 {
		panic("unexpected capacity must not be negative")
	}
}

// Build creates the communicator and attaches it to the transport.
func (b Builder) Build(name string) (*Comm, error) {
	b.parametersMustBeValid()

	c := &Comm{
		name:      name,
		rank:      b.rank,
		size:      b.size,
		transport: b.transport,
		codec:     b.codec,
		matcher:   newMatcher(name, b.unexpectedCap),
		outgoing:  NewBuffer(name+".Outgoing", 0),
		wakeup:    make(chan struct{}, 1),
		loopDone:  make(chan struct{}),
		pending:   make(map[string]*Request),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if b.transport != nil {
		err := b.transport.Attach(b.rank, c)
		if err != nil {
			c.cancel()
			return nil, fmt.Errorf("attach rank %d: %w", b.rank, err)
		}
	}

	go c.sendLoop()

	return c, nil
}
