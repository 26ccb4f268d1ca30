package comm

// A Rank identifies a process within a fixed-size group. Ranks of a group of
// size N are 0..N-1.
type Rank int

// Root is the rank that originates one-to-all traffic.
const Root Rank = 0

// A Tag labels a logical channel between a pair of ranks. Receives match on
// the (source, tag) pair.
type Tag int

// A Named object has a name.
type Named interface {
	Name() string
}

// channel is the matching key of a message on the receiving side.
type channel struct {
	src Rank
	tag Tag
}
