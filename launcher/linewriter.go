package launcher

import (
	"bytes"
	"io"
	"sync"
)

// A LineWriter forwards whole lines to a writer that it shares with other
// LineWriters, so lines of different processes never interleave.
type LineWriter struct {
	out  io.Writer
	lock *sync.Mutex
	buf  []byte
}

// NewLineWriter creates a LineWriter that writes to out while holding lock.
func NewLineWriter(out io.Writer, lock *sync.Mutex) *LineWriter {
	return &LineWriter{out: out, lock: lock}
}

// Write buffers p and forwards every line that is complete.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)

	end := bytes.LastIndexByte(w.buf, '\n')
	if end < 0 {
		return len(p), nil
	}

	err := w.emit(w.buf[:end+1])
	w.buf = append(w.buf[:0], w.buf[end+1:]...)

	if err != nil {
		return 0, err
	}

	return len(p), nil
}

// Flush forwards the unterminated tail, ending it with a newline.
func (w *LineWriter) Flush() error {
	if len(w.buf) == 0 {
		return nil
	}

	line := append(w.buf, '\n')
	w.buf = nil

	return w.emit(line)
}

func (w *LineWriter) emit(lines []byte) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	_, err := w.out.Write(lines)

	return err
}
