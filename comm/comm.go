// Package comm provides point-to-point, tag-matched, non-blocking messaging
// between the members of a fixed-size process group.
//
// A Comm is the explicit context of one rank: it knows its rank and the size
// of the group, and every operation goes through it. Isend and Irecv return a
// *Request immediately; Wait is the only blocking point. Messages sent by one
// rank to another with the same tag are received in the order they were sent.
package comm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarchlab/gompi/codec"
)

// Comm is the communicator of one rank.
type Comm struct {
	HookableBase

	name      string
	rank      Rank
	size      int
	transport Transport
	codec     codec.Codec
	matcher   *matcher

	ctx    context.Context
	cancel context.CancelFunc

	lock     sync.Mutex
	outgoing Buffer
	wakeup   chan struct{}
	closed   bool
	loopDone chan struct{}

	pendingLock sync.Mutex
	pending     map[string]*Request

	sendsCompleted atomic.Uint64
	recvsCompleted atomic.Uint64
	failed         atomic.Uint64
}

type outbound struct {
	req *Request
	msg *Msg
}

// Name returns the name of the communicator.
func (c *Comm) Name() string {
	return c.name
}

// Rank returns the rank of the local process.
func (c *Comm) Rank() Rank {
	return c.rank
}

// Size returns the number of ranks in the group.
func (c *Comm) Size() int {
	return c.size
}

// Codec returns the codec used to encode outbound payloads.
func (c *Comm) Codec() codec.Codec {
	return c.codec
}

func (c *Comm) isMember(r Rank) bool {
	return r >= 0 && int(r) < c.size
}

func (c *Comm) isClosed() bool {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.closed
}

// Isend starts sending v to rank dst with the given tag and returns without
// waiting for the transfer. The value is encoded before Isend returns, so the
// caller may reuse v right away. The destination may be the local rank.
func (c *Comm) Isend(v any, dst Rank, tag Tag) (*Request, error) {
	if !c.isMember(dst) {
		return nil, &RankError{
			Op:   "isend",
			Rank: dst,
			Size: c.size,
			Err:  ErrInvalidDestination,
		}
	}

	if c.isClosed() {
		return nil, fmt.Errorf("isend to rank %d: %w", dst, ErrClosed)
	}

	payload, err := c.codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("isend to rank %d: %w: %w",
			dst, ErrSerialization, err)
	}

	msg := MsgBuilder{}.
		WithSrc(c.rank).
		WithDst(dst).
		WithTag(tag).
		WithPayload(c.codec.Name(), payload).
		Build()
	req := newRequest(SendRequest, c.rank, dst, tag, c.codec)
	c.startRequest(req)

	ob := outbound{req: req, msg: msg}
	if dst == c.rank {
		c.transmit(ob)
		return req, nil
	}

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		c.completeRequest(req, nil, Status{},
			fmt.Errorf("isend to rank %d: %w", dst, ErrClosed))

		return req, nil
	}

	c.outgoing.Push(ob)
	c.lock.Unlock()

	c.signal()

	return req, nil
}

// Irecv registers a receive of the next message from rank src with the given
// tag and returns without waiting for it.
func (c *Comm) Irecv(src Rank, tag Tag) (*Request, error) {
	if !c.isMember(src) {
		return nil, &RankError{
			Op:   "irecv",
			Rank: src,
			Size: c.size,
			Err:  ErrInvalidSource,
		}
	}

	if c.isClosed() {
		return nil, fmt.Errorf("irecv from rank %d: %w", src, ErrClosed)
	}

	req := newRequest(RecvRequest, c.rank, src, tag, c.codec)
	c.startRequest(req)

	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		c.completeRequest(req, nil, Status{},
			fmt.Errorf("irecv from rank %d: %w", src, ErrClosed))

		return req, nil
	}

	msg := c.matcher.post(req)
	c.lock.Unlock()

	if msg != nil {
		c.completeRecv(req, msg)
	}

	return req, nil
}

// Send sends v to rank dst and waits until the transport took the message.
func (c *Comm) Send(ctx context.Context, v any, dst Rank, tag Tag) error {
	req, err := c.Isend(v, dst, tag)
	if err != nil {
		return err
	}

	_, err = req.Wait(ctx)

	return err
}

// Recv waits for the next message from rank src with the given tag and
// decodes it into v.
func (c *Comm) Recv(
	ctx context.Context,
	v any,
	src Rank,
	tag Tag,
) (Status, error) {
	req, err := c.Irecv(src, tag)
	if err != nil {
		return Status{}, err
	}

	status, err := req.Wait(ctx)
	if err != nil {
		return status, err
	}

	return status, req.Decode(v)
}

// Deliver accepts a message from the transport.
func (c *Comm) Deliver(msg *Msg) error {
	if msg.Dst != c.rank {
		return fmt.Errorf("%w: message %s for rank %d delivered to rank %d",
			ErrTransport, msg.ID, msg.Dst, c.rank)
	}

	if !c.isMember(msg.Src) {
		return &RankError{
			Op:   "deliver",
			Rank: msg.Src,
			Size: c.size,
			Err:  ErrInvalidSource,
		}
	}

	c.InvokeHook(HookCtx{
		Domain: c,
		Pos:    HookPosMsgDeliver,
		Item:   msg,
	})

	req, err := c.matcher.deliver(msg)
	if err != nil {
		return err
	}

	if req != nil {
		c.completeRecv(req, msg)
	}

	return nil
}

// Close sends out everything that is queued, fails the receives that are
// still pending with ErrClosed, and closes the transport.
func (c *Comm) Close() error {
	c.lock.Lock()
	if c.closed {
		c.lock.Unlock()
		return nil
	}

	c.closed = true
	c.lock.Unlock()

	c.signal()
	<-c.loopDone

	for _, req := range c.matcher.drain() {
		c.completeRequest(req, nil, Status{},
			fmt.Errorf("irecv from rank %d: %w", req.peer, ErrClosed))
	}

	c.cancel()

	if c.transport == nil {
		return nil
	}

	return c.transport.Close()
}

func (c *Comm) signal() {
	select {
	case c.wakeup <- struct{}{}:
	default:
	}
}

func (c *Comm) sendLoop() {
	defer close(c.loopDone)

	for {
		ob, ok := c.nextOutbound()
		if !ok {
			return
		}

		c.transmit(ob)
	}
}

func (c *Comm) nextOutbound() (outbound, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	for c.outgoing.Size() == 0 {
		if c.closed {
			return outbound{}, false
		}

		c.lock.Unlock()
		<-c.wakeup
		c.lock.Lock()
	}

	return c.outgoing.Pop().(outbound), true
}

func (c *Comm) transmit(ob outbound) {
	c.InvokeHook(HookCtx{
		Domain: c,
		Pos:    HookPosMsgSend,
		Item:   ob.msg,
	})

	var err error

	switch {
	case ob.msg.Dst == c.rank:
		err = c.Deliver(ob.msg)
	case c.transport == nil:
		err = fmt.Errorf("%w: no transport", ErrTransport)
	default:
		err = transportError(c.transport.Send(c.ctx, ob.msg))
	}

	if err != nil {
		err = fmt.Errorf("send %s to rank %d: %w", ob.msg.ID, ob.msg.Dst, err)
	}

	status := Status{
		Source: c.rank,
		Tag:    ob.msg.Tag,
		Bytes:  ob.msg.TrafficBytes,
	}
	c.completeRequest(ob.req, nil, status, err)
}

func (c *Comm) startRequest(req *Request) {
	c.pendingLock.Lock()
	c.pending[req.id] = req
	c.pendingLock.Unlock()

	c.InvokeHook(HookCtx{
		Domain: c,
		Pos:    HookPosReqStart,
		Item:   req,
	})
}

func (c *Comm) completeRecv(req *Request, msg *Msg) {
	status := Status{
		Source: msg.Src,
		Tag:    msg.Tag,
		Bytes:  msg.TrafficBytes,
	}
	c.completeRequest(req, msg, status, nil)
}

func (c *Comm) completeRequest(
	req *Request,
	msg *Msg,
	status Status,
	err error,
) {
	if !req.claim() {
		return
	}

	c.pendingLock.Lock()
	delete(c.pending, req.id)
	c.pendingLock.Unlock()

	switch {
	case err != nil:
		c.failed.Add(1)
	case req.kind == SendRequest:
		c.sendsCompleted.Add(1)
	default:
		c.recvsCompleted.Add(1)
	}

	req.finish(msg, status, err)

	c.InvokeHook(HookCtx{
		Domain: c,
		Pos:    HookPosReqComplete,
		Item:   req,
	})
}

// RequestInfo describes a pending request.
type RequestInfo struct {
	ID     string    `json:"id"`
	Kind   string    `json:"kind"`
	Peer   Rank      `json:"peer"`
	Tag    Tag       `json:"tag"`
	Issued time.Time `json:"issued"`
}

// PendingRequests lists the requests that have not completed, oldest first.
func (c *Comm) PendingRequests() []RequestInfo {
	c.pendingLock.Lock()
	infos := make([]RequestInfo, 0, len(c.pending))
	for _, req := range c.pending {
		infos = append(infos, RequestInfo{
			ID:     req.id,
			Kind:   req.kind.String(),
			Peer:   req.peer,
			Tag:    req.tag,
			Issued: req.issued,
		})
	}
	c.pendingLock.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].Issued.Equal(infos[j].Issued) {
			return infos[i].Issued.Before(infos[j].Issued)
		}

		return infos[i].ID < infos[j].ID
	})

	return infos
}

// QueueLevels reports the outbound queue and the per-channel queues of
// messages that arrived before a matching receive was posted.
func (c *Comm) QueueLevels() []QueueLevel {
	c.lock.Lock()
	outgoing := QueueLevel{
		Name:     c.outgoing.Name(),
		Size:     c.outgoing.Size(),
		Capacity: c.outgoing.Capacity(),
	}
	c.lock.Unlock()

	return append([]QueueLevel{outgoing}, c.matcher.levels()...)
}

// Stats counts the requests of a communicator.
type Stats struct {
	SendsCompleted uint64 `json:"sends_completed"`
	RecvsCompleted uint64 `json:"recvs_completed"`
	Failed         uint64 `json:"failed"`
	Pending        int    `json:"pending"`
	Unexpected     int    `json:"unexpected"`
}

// Stats returns the request counters of the communicator.
func (c *Comm) Stats() Stats {
	c.pendingLock.Lock()
	pending := len(c.pending)
	c.pendingLock.Unlock()

	return Stats{
		SendsCompleted: c.sendsCompleted.Load(),
		RecvsCompleted: c.recvsCompleted.Load(),
		Failed:         c.failed.Load(),
		Pending:        pending,
		Unexpected:     c.matcher.numUnexpected(),
	}
}
