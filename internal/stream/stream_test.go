package stream

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"sshmux/internal/errors"
	"sshmux/internal/logging"
	"sshmux/internal/output"
)

type record struct {
	host    string
	channel output.Channel
	line    string
}

type recordingSink struct {
	mu      sync.Mutex
	records []record
	notify  chan record
}

func (s *recordingSink) Write(label output.Label, channel output.Channel, line string) error {
	s.mu.Lock()
	r := record{host: label.Host, channel: channel, line: line}
	s.records = append(s.records, r)
	s.mu.Unlock()
	if s.notify != nil {
		s.notify <- r
	}
	return nil
}

func (s *recordingSink) lines(channel output.Channel) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.records {
		if r.channel == channel {
			out = append(out, r.line)
		}
	}
	return out
}

type fakeProcess struct {
	stdout, stderr io.Reader
	exitCode       int
	waitErr        error
	drained        func() bool
	waitedEarly    bool
}

func (p *fakeProcess) Stdout() io.Reader { return p.stdout }
func (p *fakeProcess) Stderr() io.Reader { return p.stderr }
func (p *fakeProcess) Wait() (int, error) {
	if p.drained != nil && !p.drained() {
		p.waitedEarly = true
	}
	return p.exitCode, p.waitErr
}

// eofTracker reports whether its reader has returned io.EOF.
type eofTracker struct {
	r    io.Reader
	mu   sync.Mutex
	done bool
}

func (e *eofTracker) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err == io.EOF {
		e.mu.Lock()
		e.done = true
		e.mu.Unlock()
	}
	return n, err
}

func (e *eofTracker) isDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// failingReader returns data once and then fails every read.
type failingReader struct {
	data string
	err  error
	sent bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.sent {
		f.sent = true
		return copy(p, f.data), nil
	}
	return 0, f.err
}

func label(host string) output.Label {
	return output.NewTagger(true).Tag(host, 0)
}

func encode(lines []string, terminateLast bool) string {
	if len(lines) == 0 {
		return ""
	}
	s := strings.Join(lines, "\n")
	if terminateLast || lines[len(lines)-1] == "" {
		s += "\n"
	}
	return s
}

func TestProperty_LineOrderPreservedPerChannel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lineGen := rapid.SliceOfN(rapid.StringMatching(`[ -~]{0,40}`), 0, 50)
		outLines := lineGen.Draw(t, "stdout")
		errLines := lineGen.Draw(t, "stderr")
		terminate := rapid.Bool().Draw(t, "terminateLast")

		sink := &recordingSink{}
		proc := &fakeProcess{
			stdout: strings.NewReader(encode(outLines, terminate)),
			stderr: strings.NewReader(encode(errLines, terminate)),
		}

		outcome := NewMultiplexer(sink, logging.Discard()).Drain(proc, label("h1"))

		if got := sink.lines(output.Stdout); !equalLines(got, outLines) {
			t.Fatalf("stdout lines = %q, want %q", got, outLines)
		}
		if got := sink.lines(output.Stderr); !equalLines(got, errLines) {
			t.Fatalf("stderr lines = %q, want %q", got, errLines)
		}
		if outcome.Lines != len(outLines)+len(errLines) {
			t.Fatalf("outcome.Lines = %d", outcome.Lines)
		}
	})
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDrainUnterminatedTailAndCRLF(t *testing.T) {
	sink := &recordingSink{}
	proc := &fakeProcess{
		stdout:   strings.NewReader("one\r\ntwo\nthree"),
		stderr:   strings.NewReader(""),
		exitCode: 0,
	}

	outcome := NewMultiplexer(sink, nil).Drain(proc, label("h1"))

	assert.Equal(t, []string{"one", "two", "three"}, sink.lines(output.Stdout))
	assert.Empty(t, sink.lines(output.Stderr))
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Empty(t, outcome.ReadErrs)
}

func TestDrainLongLine(t *testing.T) {
	long := strings.Repeat("a", 256*1024)
	sink := &recordingSink{}
	proc := &fakeProcess{stdout: strings.NewReader(long + "\n"), stderr: strings.NewReader("")}

	NewMultiplexer(sink, nil).Drain(proc, label("h1"))

	require.Len(t, sink.lines(output.Stdout), 1)
	assert.Len(t, sink.lines(output.Stdout)[0], len(long))
}

func TestDrainWaitsOnlyAfterBothStreamsEnd(t *testing.T) {
	out := &eofTracker{r: strings.NewReader("a\nb\n")}
	errR := &eofTracker{r: strings.NewReader("c\n")}
	proc := &fakeProcess{stdout: out, stderr: errR, exitCode: 7}
	proc.drained = func() bool { return out.isDone() && errR.isDone() }

	outcome := NewMultiplexer(&recordingSink{}, nil).Drain(proc, label("h1"))

	assert.False(t, proc.waitedEarly)
	assert.Equal(t, 7, outcome.ExitCode)
}

func TestDrainReadErrorIsolatedToOneStream(t *testing.T) {
	sink := &recordingSink{}
	readErr := fmt.Errorf("connection reset")
	proc := &fakeProcess{
		stdout: &failingReader{data: "first\npartial", err: readErr},
		stderr: strings.NewReader("e1\ne2\n"),
	}

	outcome := NewMultiplexer(sink, logging.Discard()).Drain(proc, label("h1"))

	assert.Equal(t, []string{"first", "partial"}, sink.lines(output.Stdout))
	assert.Equal(t, []string{"e1", "e2", "error reading stdout: connection reset"}, sortDiagnosticLast(sink.lines(output.Stderr)))

	require.Len(t, outcome.ReadErrs, 1)
	assert.Equal(t, errors.StreamReadErrorType, errors.TypeOf(outcome.ReadErrs[0]))
	assert.ErrorIs(t, outcome.ReadErrs[0], readErr)
}

// sortDiagnosticLast moves the diagnostic line to the end; the two streams
// have no defined relative order.
func sortDiagnosticLast(lines []string) []string {
	var regular, diag []string
	for _, l := range lines {
		if strings.HasPrefix(l, "error reading") {
			diag = append(diag, l)
		} else {
			regular = append(regular, l)
		}
	}
	return append(regular, diag...)
}

func TestSlowStderrDoesNotStallStdout(t *testing.T) {
	stderrR, stderrW := io.Pipe()
	sink := &recordingSink{notify: make(chan record, 16)}
	proc := &fakeProcess{stdout: strings.NewReader("fast-1\nfast-2\n"), stderr: stderrR}

	done := make(chan Outcome, 1)
	go func() {
		done <- NewMultiplexer(sink, nil).Drain(proc, label("h1"))
	}()

	for i := 1; i <= 2; i++ {
		select {
		case r := <-sink.notify:
			assert.Equal(t, fmt.Sprintf("fast-%d", i), r.line)
		case <-time.After(5 * time.Second):
			t.Fatal("stdout lines were held back by an idle stderr")
		}
	}

	select {
	case <-done:
		t.Fatal("drain finished while stderr was still open")
	default:
	}

	_, err := stderrW.Write([]byte("slow\n"))
	require.NoError(t, err)
	require.NoError(t, stderrW.Close())

	select {
	case outcome := <-done:
		assert.Equal(t, 3, outcome.Lines)
	case <-time.After(5 * time.Second):
		t.Fatal("drain did not finish")
	}
}
