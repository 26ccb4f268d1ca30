package comm

import "context"

// A Deliverer accepts inbound messages. Communicators are Deliverers.
type Deliverer interface {
	Deliver(msg *Msg) error
}

// A Transport moves messages between the ranks of a group. Implementations
// must hand messages from one sender to one destination over in the order
// Send is called; errors should wrap ErrTransport.
type Transport interface {
	// Attach registers the deliverer of the local rank. Inbound messages are
	// delivered to it from the transport's own goroutines.
	Attach(rank Rank, d Deliverer) error

	// Send transfers the message towards msg.Dst. It returns once the
	// transport has taken over the message.
	Send(ctx context.Context, msg *Msg) error

	// Close releases the transport. Messages sent afterwards fail.
	Close() error
}
