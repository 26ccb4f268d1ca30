// Package wsnet provides a transport that connects the ranks of a group over
// WebSocket connections.
//
// Every rank serves the route /gompi/v1/peers/{rank}. A sender dials its
// destination at that route, where {rank} is the sender's own rank, and keeps
// the connection for all later messages to the same destination. Messages on
// one connection arrive in the order they were written.
package wsnet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/sarchlab/gompi/comm"
)

// RoutePrefix is the path under which an endpoint accepts peer connections.
const RoutePrefix = "/gompi/v1/peers/"

// Endpoint is the WebSocket transport of one rank.
type Endpoint struct {
	rank          comm.Rank
	listenAddr    string
	dialTimeout   time.Duration
	retryInterval time.Duration
	dialer        *websocket.Dialer
	upgrader      websocket.Upgrader

	lock      sync.Mutex
	peers     []string
	outgoing  map[comm.Rank]*peerConn
	inbound   map[*websocket.Conn]struct{}
	listener  net.Listener
	server    *http.Server
	deliverer comm.Deliverer
	attached  chan struct{}
	done      chan struct{}
	closed    bool

	handlers sync.WaitGroup
}

type peerConn struct {
	lock sync.Mutex
	conn *websocket.Conn
}

// Rank returns the rank the endpoint serves.
func (e *Endpoint) Rank() comm.Rank {
	return e.rank
}

// SetPeers replaces the addresses of the ranks of the group.
func (e *Endpoint) SetPeers(peers []string) {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.peers = append([]string(nil), peers...)
}

// Peers returns the addresses of the ranks of the group.
func (e *Endpoint) Peers() []string {
	e.lock.Lock()
	defer e.lock.Unlock()

	return append([]string(nil), e.peers...)
}

// Listen starts accepting connections from peers. It returns the address
// that the endpoint listens on.
func (e *Endpoint) Listen() (net.Addr, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.closed {
		return nil, fmt.Errorf("%w: endpoint of rank %d is closed",
			comm.ErrTransport, e.rank)
	}

	if e.listener != nil {
		return e.listener.Addr(), nil
	}

	addr := e.listenAddr
	if addr == "" && int(e.rank) < len(e.peers) {
		addr = e.peers[e.rank]
	}

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: rank %d cannot listen on %q: %w",
			comm.ErrTransport, e.rank, addr, err)
	}

	r := mux.NewRouter()
	r.HandleFunc(RoutePrefix+"{rank:[0-9]+}", e.handlePeer)

	e.listener = l
	e.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := e.server.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("rank %d stopped serving: %v", e.rank, err)
		}
	}()

	return l.Addr(), nil
}

// Attach registers the communicator that receives incoming messages.
func (e *Endpoint) Attach(rank comm.Rank, d comm.Deliverer) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if rank != e.rank {
		return fmt.Errorf("%w: endpoint of rank %d cannot attach rank %d",
			comm.ErrTransport, e.rank, rank)
	}

	if e.deliverer != nil {
		return fmt.Errorf("%w: rank %d is already attached",
			comm.ErrTransport, rank)
	}

	e.deliverer = d
	close(e.attached)

	return nil
}

// Send writes the message to the connection of its destination, dialing the
// destination first if there is no connection yet.
func (e *Endpoint) Send(ctx context.Context, msg *comm.Msg) error {
	pc, addr, err := e.peerOf(msg.Dst)
	if err != nil {
		return err
	}

	return e.sendTo(ctx, pc, addr, msg)
}

// sendTo writes a message on the connection to a peer, dialing it first if
// needed. Close may run between peerOf and sendTo, so the endpoint is checked
// again under the connection lock.
func (e *Endpoint) sendTo(
	ctx context.Context,
	pc *peerConn,
	addr string,
	msg *comm.Msg,
) error {
	pc.lock.Lock()
	defer pc.lock.Unlock()

	if e.isClosed() {
		return fmt.Errorf("%w: endpoint of rank %d is closed",
			comm.ErrTransport, e.rank)
	}

	if pc.conn == nil {
		conn, err := e.dial(ctx, addr)
		if err != nil {
			return fmt.Errorf("%w: rank %d cannot reach rank %d at %s: %w",
				comm.ErrTransport, e.rank, msg.Dst, addr, err)
		}

		pc.conn = conn
	}

	err := pc.conn.WriteJSON(frameOf(msg))
	if err != nil {
		pc.conn.Close()
		pc.conn = nil

		return fmt.Errorf("%w: rank %d failed to write to rank %d: %w",
			comm.ErrTransport, e.rank, msg.Dst, err)
	}

	return nil
}

func (e *Endpoint) peerOf(dst comm.Rank) (*peerConn, string, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.closed {
		return nil, "", fmt.Errorf("%w: endpoint of rank %d is closed",
			comm.ErrTransport, e.rank)
	}

	if dst < 0 || int(dst) >= len(e.peers) {
		return nil, "", fmt.Errorf("%w: rank %d has no address",
			comm.ErrTransport, dst)
	}

	pc, ok := e.outgoing[dst]
	if !ok {
		pc = &peerConn{}
		e.outgoing[dst] = pc
	}

	return pc, e.peers[dst], nil
}

func (e *Endpoint) dial(ctx context.Context, addr string) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, e.dialTimeout)
	defer cancel()

	url := "ws://" + addr + RoutePrefix + strconv.Itoa(int(e.rank))

	for {
		conn, _, err := e.dialer.DialContext(ctx, url, nil)
		if err == nil {
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(e.retryInterval):
		}
	}
}

func (e *Endpoint) handlePeer(w http.ResponseWriter, r *http.Request) {
	src, err := strconv.Atoi(mux.Vars(r)["rank"])
	if err != nil || !e.isPeer(src) {
		http.Error(w, "unknown rank", http.StatusNotFound)
		return
	}

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("rank %d failed to accept rank %d: %v", e.rank, src, err)
		return
	}

	if !e.track(conn) {
		conn.Close()
		return
	}
	defer e.untrack(conn)

	e.readFrames(comm.Rank(src), conn)
}

func (e *Endpoint) isPeer(rank int) bool {
	e.lock.Lock()
	defer e.lock.Unlock()

	return rank >= 0 && rank < len(e.peers)
}

func (e *Endpoint) track(conn *websocket.Conn) bool {
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.closed {
		return false
	}

	e.inbound[conn] = struct{}{}
	e.handlers.Add(1)

	return true
}

func (e *Endpoint) untrack(conn *websocket.Conn) {
	e.lock.Lock()
	delete(e.inbound, conn)
	e.lock.Unlock()

	conn.Close()
	e.handlers.Done()
}

func (e *Endpoint) readFrames(src comm.Rank, conn *websocket.Conn) {
	select {
	case <-e.attached:
	case <-e.done:
		return
	}

	for {
		var f frame

		err := conn.ReadJSON(&f)
		if err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!e.isClosed() {
				log.Printf("rank %d lost connection from rank %d: %v",
					e.rank, src, err)
			}

			return
		}

		if comm.Rank(f.Src) != src || comm.Rank(f.Dst) != e.rank {
			log.Printf("rank %d rejected message %s from %d to %d on the "+
				"connection of rank %d", e.rank, f.ID, f.Src, f.Dst, src)
			continue
		}

		err = e.deliverer.Deliver(f.msg())
		if err != nil {
			log.Printf("rank %d cannot deliver message %s: %v",
				e.rank, f.ID, err)
		}
	}
}

func (e *Endpoint) isClosed() bool {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.closed
}

// Close closes all connections and stops listening.
func (e *Endpoint) Close() error {
	e.lock.Lock()
	if e.closed {
		e.lock.Unlock()
		return nil
	}

	e.closed = true
	close(e.done)
	server := e.server
	outgoing := e.outgoing
	inbound := make([]*websocket.Conn, 0, len(e.inbound))
	for conn := range e.inbound {
		inbound = append(inbound, conn)
	}
	e.lock.Unlock()

	var errs []error

	for _, pc := range outgoing {
		pc.lock.Lock()
		if pc.conn != nil {
			errs = append(errs, closeConn(pc.conn))
			pc.conn = nil
		}
		pc.lock.Unlock()
	}

	if server != nil {
		errs = append(errs, server.Close())
	}

	for _, conn := range inbound {
		conn.Close()
	}

	e.handlers.Wait()

	return errors.Join(errs...)
}

func closeConn(conn *websocket.Conn) error {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	return conn.Close()
}
