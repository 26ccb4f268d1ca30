package wsnet

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sarchlab/gompi/comm"
)

// Builder can build WebSocket endpoints.
type Builder struct {
	rank          comm.Rank
	listenAddr    string
	peers         []string
	dialTimeout   time.Duration
	retryInterval time.Duration
}

// MakeBuilder creates a builder with a 10 second dial window.
func MakeBuilder() Builder {
	return Builder{
		dialTimeout:   10 * time.Second,
		retryInterval: 50 * time.Millisecond,
	}
}

// WithRank sets the rank served by the endpoint.
func (b Builder) WithRank(rank comm.Rank) Builder {
	b.rank = rank
	return b
}

// WithListenAddr sets the address to listen on. By default, the endpoint
// listens on its own entry in the peer list.
func (b Builder) WithListenAddr(addr string) Builder {
	b.listenAddr = addr
	return b
}

// WithPeers sets the addresses of all the ranks, indexed by rank.
func (b Builder) WithPeers(peers []string) Builder {
	b.peers = peers
	return b
}

// WithDialTimeout sets how long the endpoint keeps trying to connect to a
// peer that is not listening yet.
func (b Builder) WithDialTimeout(d time.Duration) Builder {
	b.dialTimeout = d
	return b
}

// WithRetryInterval sets the pause between two connection attempts.
func (b Builder) WithRetryInterval(d time.Duration) Builder {
	b.retryInterval = d
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.rank < 0 {
		panic(fmt.Sprintf("rank must not be negative, got %d", b.rank))
	}

	if len(b.peers) > 0 && int(b.rank) >= len(b.peers) {
		panic(fmt.Sprintf("rank %d is not in a group of %d peers",
			b.rank, len(b.peers)))
	}

	if b.dialTimeout <= 0 {
		panic("dial timeout must be positive")
	}

	if b.retryInterval <= 0 {
		panic("retry interval must be positive")
	}
}

// Build creates a new endpoint. The endpoint does not accept connections
// until Listen is called.
func (b Builder) Build() *Endpoint {
	b.parametersMustBeValid()

	return &Endpoint{
		rank:          b.rank,
		listenAddr:    b.listenAddr,
		peers:         append([]string(nil), b.peers...),
		dialTimeout:   b.dialTimeout,
		retryInterval: b.retryInterval,
		dialer: &websocket.Dialer{
			HandshakeTimeout: b.dialTimeout,
		},
		outgoing: make(map[comm.Rank]*peerConn),
		inbound:  make(map[*websocket.Conn]struct{}),
		attached: make(chan struct{}),
		done:     make(chan struct{}),
	}
}
