package executor

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"sshmux/internal/errors"
	"sshmux/internal/logging"
	"sshmux/internal/output"
	"sshmux/internal/ssh"
	"sshmux/internal/stats"
	"sshmux/internal/stream"
	"sshmux/internal/target"
	"sshmux/internal/template"
)

// RunSpec is the validated input of one run. It is read-only once built.
type RunSpec struct {
	Command string
	Targets []target.Target
}

// Config holds supervisor settings
type Config struct {
	Concurrency int  // Maximum tasks in flight, 0 for one per host with no cap
	Verbose     bool // Emit a connecting notice per host
	Template    bool // Render Command as a text/template per host
}

// State is the lifecycle position of one task.
type State int

const (
	Created State = iota
	Connecting
	Streaming
	Terminated
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	default:
		return "terminated"
	}
}

// Supervisor fans one task out per target and joins them all.
type Supervisor struct {
	invoker ssh.Invoker
	sink    output.Sink
	tagger  output.Tagger
	logger  *logging.Logger
	config  Config
}

// NewSupervisor creates a supervisor. Invoker and sink are required.
func NewSupervisor(invoker ssh.Invoker, sink output.Sink, tagger output.Tagger, logger *logging.Logger, config Config) *Supervisor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Supervisor{
		invoker: invoker,
		sink:    sink,
		tagger:  tagger,
		logger:  logger,
		config:  config,
	}
}

// Run starts one task per target, in list order, and returns once every
// task is terminal. Per-host failures never cancel other tasks; they are
// printed tagged on the error stream and recorded in the report.
func (s *Supervisor) Run(ctx context.Context, spec RunSpec) (*stats.Report, error) {
	report := stats.NewReport(len(spec.Targets))

	var renderer *template.Renderer
	if s.config.Template {
		r, err := template.Parse(spec.Command)
		if err != nil {
			return nil, errors.NewValidationError(err.Error(), err)
		}
		renderer = r
	}

	s.logger.LogRunStart(len(spec.Targets), s.config.Concurrency, fmt.Sprintf("%T", s.invoker))

	// Tasks never return an error, so the group never cancels anything; it
	// is used for the join and the optional admission limit.
	var g errgroup.Group
	if s.config.Concurrency > 0 {
		g.SetLimit(s.config.Concurrency)
	}

	for i, t := range spec.Targets {
		index, tgt := i, t
		g.Go(func() error {
			report.Record(s.runTask(ctx, index, tgt, spec.Command, renderer))
			return nil
		})
	}
	_ = g.Wait()

	st := report.Statistics()
	s.logger.LogRunComplete(st.TotalHosts, st.Completed, st.SpawnFailed, st.NonZeroExit, report.Elapsed())

	return report, nil
}

// runTask drives one host through Created → Connecting → Streaming →
// Terminated. tgt is the task's own copy.
func (s *Supervisor) runTask(ctx context.Context, index int, tgt target.Target, command string, renderer *template.Renderer) (result stats.TaskResult) {
	start := time.Now()
	label := s.tagger.Tag(tgt.Host, index)
	state := Created

	result = stats.TaskResult{Index: index, Host: tgt.Host, Outcome: stats.Completed, ExitCode: -1}

	advance := func(next State) {
		s.logger.LogTaskState(index, tgt.Host, state.String(), next.String())
		state = next
	}

	defer func() {
		if r := recover(); r != nil {
			result.Outcome = stats.SpawnFailed
			result.Err = errors.NewSpawnError(tgt.Host, fmt.Errorf("task panic: %v", r))
			s.reportSpawnError(label, index, tgt, result.Err)
		}
		if state != Terminated {
			advance(Terminated)
		}
		result.Duration = time.Since(start)
		s.logger.LogTaskComplete(index, tgt.Host, result.Outcome.String(), result.ExitCode, result.Lines, result.Duration)
	}()

	advance(Connecting)

	if renderer != nil {
		rendered, err := renderer.Render(index, tgt)
		if err != nil {
			result.Outcome = stats.SpawnFailed
			result.Err = errors.NewSpawnError(tgt.Host, err)
			s.reportSpawnError(label, index, tgt, result.Err)
			advance(Terminated)
			return result
		}
		command = rendered
	}

	if s.config.Verbose {
		s.write(label, output.Stdout, fmt.Sprintf("Connecting to %s...", tgt.Address()))
	}

	proc, err := s.invoker.Invoke(ctx, tgt, command)
	if err != nil {
		result.Outcome = stats.SpawnFailed
		result.Err = err
		s.reportSpawnError(label, index, tgt, err)
		advance(Terminated)
		return result
	}
	s.logger.LogSpawn(index, tgt, time.Since(start))

	advance(Streaming)
	outcome := stream.NewMultiplexer(s.sink, s.logger).Drain(proc, label)
	advance(Terminated)

	result.ExitCode = outcome.ExitCode
	result.Lines = outcome.Lines
	result.ReadErrs = outcome.ReadErrs
	result.WriteFails = outcome.WriteFails
	if outcome.WaitErr != nil {
		result.Err = fmt.Errorf("%s: waiting for ssh command: %w", tgt.Host, outcome.WaitErr)
	}

	return result
}

func (s *Supervisor) reportSpawnError(label output.Label, index int, tgt target.Target, err error) {
	kind := errors.SpawnOther
	cause := err
	var spawnErr *errors.SpawnError
	if stderrors.As(err, &spawnErr) {
		kind = spawnErr.Kind
		if spawnErr.Original != nil {
			cause = spawnErr.Original
		}
	}

	s.logger.LogSpawnError(index, tgt, kind.String(), err)
	s.write(label, output.Stderr, fmt.Sprintf("Failed to spawn ssh command: %v", cause))
}

func (s *Supervisor) write(label output.Label, channel output.Channel, line string) {
	if err := s.sink.Write(label, channel, line); err != nil {
		s.logger.Warn("output write failed", "host", label.Host, "error", err)
	}
}
