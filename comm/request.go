package comm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sarchlab/gompi/codec"
)

// RequestKind tells whether a request sends or receives.
type RequestKind int

// The kinds of requests.
const (
	SendRequest RequestKind = iota
	RecvRequest
)

func (k RequestKind) String() string {
	switch k {
	case SendRequest:
		return "send"
	case RecvRequest:
		return "recv"
	default:
		return fmt.Sprintf("RequestKind(%d)", int(k))
	}
}

// Status describes a completed request.
type Status struct {
	Source Rank
	Tag    Tag
	Bytes  int
}

// A Request is the handle of a non-blocking send or receive. A request starts
// pending and completes exactly once. Waiting on a completed request returns
// the cached result immediately, any number of times.
type Request struct {
	id     string
	kind   RequestKind
	owner  Rank
	peer   Rank
	tag    Tag
	issued time.Time
	codec  codec.Codec

	claimed atomic.Bool
	done    chan struct{}
	status  Status
	msg     *Msg
	err     error
}

func newRequest(
	kind RequestKind,
	owner, peer Rank,
	tag Tag,
	c codec.Codec,
) *Request {
	return &Request{
		id:     GetIDGenerator().Generate(),
		kind:   kind,
		owner:  owner,
		peer:   peer,
		tag:    tag,
		issued: time.Now(),
		codec:  c,
		done:   make(chan struct{}),
	}
}

// ID returns the ID of the request.
func (r *Request) ID() string {
	return r.id
}

// Kind returns whether the request sends or receives.
func (r *Request) Kind() RequestKind {
	return r.kind
}

// Owner returns the rank that issued the request.
func (r *Request) Owner() Rank {
	return r.owner
}

// Peer returns the destination of a send or the source of a receive.
func (r *Request) Peer() Rank {
	return r.peer
}

// Tag returns the tag of the request.
func (r *Request) Tag() Tag {
	return r.tag
}

// Issued returns when the request was issued.
func (r *Request) Issued() time.Time {
	return r.issued
}

// Done returns a channel that is closed when the request completes.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Test reports whether the request has completed, without blocking.
func (r *Request) Test() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the request completes or the context is done. A context
// that ends first only abandons the wait; the request stays pending.
func (r *Request) Wait(ctx context.Context) (Status, error) {
	select {
	case <-r.done:
		return r.status, r.err
	default:
	}

	select {
	case <-r.done:
		return r.status, r.err
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Result returns the outcome of a completed request without blocking. It
// returns ErrPending if the request has not completed.
func (r *Request) Result() (Status, error) {
	if !r.Test() {
		return Status{}, ErrPending
	}

	return r.status, r.err
}

// Msg returns the message that completed a receive. It returns nil for sends,
// failed receives, and pending requests.
func (r *Request) Msg() *Msg {
	if !r.Test() {
		return nil
	}

	return r.msg
}

// Decode decodes the payload of a completed receive into v.
func (r *Request) Decode(v any) error {
	if r.kind != RecvRequest {
		return fmt.Errorf("decode request %s: %w", r.id, ErrNotReceive)
	}

	status, err := r.Result()
	if err != nil {
		return fmt.Errorf("decode request %s: %w", r.id, err)
	}

	c := r.codec
	if found, ok := codec.Lookup(r.msg.Codec); ok {
		c = found
	}

	err = c.Decode(r.msg.Payload, v)
	if err != nil {
		return fmt.Errorf("decode %d bytes from rank %d: %w: %w",
			status.Bytes, status.Source, ErrSerialization, err)
	}

	return nil
}

// claim marks the request as being completed. Only the first claim
// succeeds.
func (r *Request) claim() bool {
	return r.claimed.CompareAndSwap(false, true)
}

// finish publishes the result of a claimed request and releases the waiters.
func (r *Request) finish(msg *Msg, status Status, err error) {
	r.msg = msg
	r.status = status
	r.err = err
	close(r.done)
}

// WaitAll waits for all the requests to complete. The statuses are returned in
// the order of the requests. The first error by request order is returned. If
// the context ends first, the wait stops at the first pending request, which
// reports the context error.
func WaitAll(ctx context.Context, reqs ...*Request) ([]Status, error) {
	statuses := make([]Status, len(reqs))

	var firstErr error
	for i, req := range reqs {
		status, err := req.Wait(ctx)
		if err != nil {
			if !req.Test() {
				if firstErr != nil {
					return statuses, firstErr
				}

				return statuses, err
			}

			status, err = req.Result()
		}

		statuses[i] = status
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return statuses, firstErr
}
