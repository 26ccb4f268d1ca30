// Package tracing turns the requests of a communicator into traced tasks.
package tracing

import (
	"time"

	"github.com/sarchlab/gompi/comm"
)

// A Task is a send or a receive request, from its issue to its completion.
type Task struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	What      string    `json:"what"`
	Where     string    `json:"where"`
	Peer      comm.Rank `json:"peer"`
	Tag       comm.Tag  `json:"tag"`
	Bytes     int       `json:"bytes"`
	Err       string    `json:"err,omitempty"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Detail    any       `json:"-"`
}

// Duration returns how long the task took.
func (t Task) Duration() time.Duration {
	return t.EndTime.Sub(t.StartTime)
}

// TaskFilter is a function that can filter interesting tasks. If this function
// returns true, the task is considered useful.
type TaskFilter func(t Task) bool

// KindFilter keeps the tasks of the given kind, such as "send" or "recv".
func KindFilter(kind string) TaskFilter {
	return func(t Task) bool {
		return t.Kind == kind
	}
}

// A Tracer can collect task traces
type Tracer interface {
	StartTask(task Task)
	EndTask(task Task)
}

// A TimeTeller can tell the current time.
type TimeTeller interface {
	CurrentTime() time.Time
}

// WallClock tells the time of the machine.
type WallClock struct{}

// CurrentTime returns the current time of the machine.
func (WallClock) CurrentTime() time.Time {
	return time.Now()
}
