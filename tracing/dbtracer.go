package tracing

import (
	"sync"
	"time"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/gompi/datarecording"
)

// RequestTable is the table that a DBTracer writes finished tasks into.
const RequestTable = "requests"

// TaskTableEntry is a row of the request table. Times are in seconds since
// the Unix epoch.
type TaskTableEntry struct {
	ID        string
	Kind      string
	What      string
	Location  string
	Peer      int
	Tag       int
	Bytes     int
	Err       string
	StartTime float64
	EndTime   float64
}

// DBTracer is a tracer that can store tasks into a database.
type DBTracer struct {
	mu         sync.Mutex
	timeTeller TimeTeller
	backend    datarecording.DataRecorder

	tracingTasks map[string]Task
	terminated   bool
}

// NewDBTracer creates a new DBTracer.
func NewDBTracer(
	timeTeller TimeTeller,
	dataRecorder datarecording.DataRecorder,
) *DBTracer {
	dataRecorder.CreateTable(RequestTable, TaskTableEntry{})

	t := &DBTracer{
		timeTeller:   timeTeller,
		backend:      dataRecorder,
		tracingTasks: make(map[string]Task),
	}

	atexit.Register(func() {
		t.Terminate()
	})

	return t
}

// StartTask marks the start of a task.
func (t *DBTracer) StartTask(task Task) {
	t.startingTaskMustBeValid(task)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminated {
		return
	}

	task.StartTime = t.timeTeller.CurrentTime()
	t.tracingTasks[task.ID] = task
}

func (t *DBTracer) startingTaskMustBeValid(task Task) {
	if task.ID == "" {
		panic("task ID must be set")
	}

	if task.Kind == "" {
		panic("task kind must be set")
	}

	if task.What == "" {
		panic("task what must be set")
	}

	if task.Where == "" {
		panic("task where must be set")
	}
}

// EndTask marks the end of a task and writes it to the database.
func (t *DBTracer) EndTask(task Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	originalTask, ok := t.tracingTasks[task.ID]
	if !ok || t.terminated {
		return
	}

	delete(t.tracingTasks, task.ID)

	originalTask.EndTime = t.timeTeller.CurrentTime()
	originalTask.Bytes = task.Bytes
	originalTask.Err = task.Err

	t.backend.InsertData(RequestTable, TaskTableEntry{
		ID:        originalTask.ID,
		Kind:      originalTask.Kind,
		What:      originalTask.What,
		Location:  originalTask.Where,
		Peer:      int(originalTask.Peer),
		Tag:       int(originalTask.Tag),
		Bytes:     originalTask.Bytes,
		Err:       originalTask.Err,
		StartTime: seconds(originalTask.StartTime),
		EndTime:   seconds(originalTask.EndTime),
	})
}

// NumInflight returns the number of tasks that started but not ended.
func (t *DBTracer) NumInflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.tracingTasks)
}

// Terminate flushes the finished tasks. Tasks that have not finished are not
// recorded.
func (t *DBTracer) Terminate() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.terminated {
		return
	}

	t.terminated = true
	t.tracingTasks = nil
	t.backend.Flush()
}

func seconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
