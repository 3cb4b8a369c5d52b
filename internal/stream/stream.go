// Package stream drains a remote command's output streams line by line into
// a shared sink.
package stream

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"sshmux/internal/errors"
	"sshmux/internal/logging"
	"sshmux/internal/output"
	"sshmux/internal/ssh"
)

// Outcome summarizes one drained process.
type Outcome struct {
	ExitCode   int     // Remote exit status, -1 when unknown
	WaitErr    error   // Set when the process ended without an exit status
	ReadErrs   []error // One *errors.StreamReadError per failed stream
	Lines      int     // Lines forwarded across both streams
	WriteFails int     // Sink writes that returned an error
}

// Multiplexer forwards completed lines from both streams of a process.
type Multiplexer struct {
	sink   output.Sink
	logger *logging.Logger
}

// NewMultiplexer creates a multiplexer writing to sink.
func NewMultiplexer(sink output.Sink, logger *logging.Logger) *Multiplexer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Multiplexer{sink: sink, logger: logger}
}

type drainResult struct {
	lines      int
	writeFails int
	err        error
}

// Drain reads stdout and stderr concurrently until both reach end of
// stream, then waits for the process to exit. A read error ends only the
// stream it happened on; it is reported as a tagged line on the error
// stream and returned in the outcome.
func (m *Multiplexer) Drain(proc ssh.Process, label output.Label) Outcome {
	var (
		wg             sync.WaitGroup
		stdout, stderr drainResult
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		stdout = m.drainOne(proc.Stdout(), label, output.Stdout)
	}()
	go func() {
		defer wg.Done()
		stderr = m.drainOne(proc.Stderr(), label, output.Stderr)
	}()
	wg.Wait()

	outcome := Outcome{
		Lines:      stdout.lines + stderr.lines,
		WriteFails: stdout.writeFails + stderr.writeFails,
	}
	for _, r := range []drainResult{stdout, stderr} {
		if r.err != nil {
			outcome.ReadErrs = append(outcome.ReadErrs, r.err)
		}
	}

	outcome.ExitCode, outcome.WaitErr = proc.Wait()
	return outcome
}

func (m *Multiplexer) drainOne(r io.Reader, label output.Label, channel output.Channel) drainResult {
	var res drainResult
	if r == nil {
		return res
	}

	emit := func(line string) {
		res.lines++
		if err := m.sink.Write(label, channel, line); err != nil {
			res.writeFails++
			if res.writeFails == 1 {
				m.logger.Warn("output write failed", "host", label.Host, "stream", channel.String(), "error", err)
			}
		}
	}

	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if strings.HasSuffix(line, "\n") {
			line = strings.TrimSuffix(line[:len(line)-1], "\r")
			emit(line)
		} else if line != "" {
			// unterminated tail at end of stream or before a read error
			emit(line)
		}

		if err == io.EOF {
			return res
		}
		if err != nil {
			res.err = &errors.StreamReadError{Host: label.Host, Stream: channel.String(), Original: err}
			m.logger.LogStreamError(label.Host, channel.String(), err)
			_ = m.sink.Write(label, output.Stderr, fmt.Sprintf("error reading %s: %v", channel, err))
			// keep the child from blocking on a full pipe
			_, _ = io.Copy(io.Discard, r)
			return res
		}
	}
}
