// Package output renders host-tagged lines to the terminal.
package output

import (
	"io"
	"os"
	"sync"
)

// Channel identifies which stream of the child a line came from.
type Channel int

const (
	Stdout Channel = iota
	Stderr
)

func (c Channel) String() string {
	if c == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Sink receives completed lines from every running task.
type Sink interface {
	// Write emits one tagged line. Implementations must make each call
	// atomic with respect to concurrent calls.
	Write(label Label, channel Channel, line string) error
}

// WriterSink writes stdout-channel lines to one writer and stderr-channel
// lines to another, one Write call per line.
type WriterSink struct {
	mu  sync.Mutex
	out io.Writer
	err io.Writer
	buf []byte
}

// NewWriterSink creates a sink over the given writers. Nil writers default
// to the process stdout and stderr.
func NewWriterSink(out, err io.Writer) *WriterSink {
	if out == nil {
		out = os.Stdout
	}
	if err == nil {
		err = os.Stderr
	}
	return &WriterSink{out: out, err: err}
}

// Write renders "<tag> <line>\n" into a single buffer and writes it while
// holding the lock, so lines from different hosts never tear.
func (s *WriterSink) Write(label Label, channel Channel, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = s.buf[:0]
	s.buf = append(s.buf, label.String()...)
	s.buf = append(s.buf, ' ')
	s.buf = append(s.buf, line...)
	s.buf = append(s.buf, '\n')

	w := s.out
	if channel == Stderr {
		w = s.err
	}

	_, err := w.Write(s.buf)
	return err
}
