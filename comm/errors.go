package comm

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by communicators and transports. Use errors.Is to
// classify a returned error.
var (
	ErrInvalidDestination = errors.New("invalid destination rank")
	ErrInvalidSource      = errors.New("invalid source rank")
	ErrSerialization      = errors.New("serialization error")
	ErrTransport          = errors.New("transport failure")
	ErrClosed             = errors.New("communicator closed")
	ErrNotReceive         = errors.New("request is not a receive")
	ErrPending            = errors.New("request is still pending")
)

// A RankError reports a rank that is not a member of the group.
type RankError struct {
	Op   string
	Rank Rank
	Size int
	Err  error
}

func (e *RankError) Error() string {
	return fmt.Sprintf("%s: rank %d is not in [0, %d): %v",
		e.Op, e.Rank, e.Size, e.Err)
}

// Unwrap returns the error kind.
func (e *RankError) Unwrap() error {
	return e.Err
}

func transportError(err error) error {
	if err == nil || errors.Is(err, ErrTransport) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTransport, err)
}
