// Package stats tallies task outcomes for one run.
package stats

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"sshmux/internal/errors"
)

// Outcome is the terminal state of one task.
type Outcome int

const (
	Completed Outcome = iota
	SpawnFailed
)

func (o Outcome) String() string {
	if o == SpawnFailed {
		return "spawn_failed"
	}
	return "completed"
}

// TaskResult is what a finished task reports. Nothing here is printed; the
// lines were already written by the time a result exists.
type TaskResult struct {
	Index      int
	Host       string
	Outcome    Outcome
	ExitCode   int
	Lines      int
	Duration   time.Duration
	Err        error   // spawn or wait failure
	ReadErrs   []error // stream read failures
	WriteFails int     // lines the sink failed to write locally
}

// Failed reports whether the task should count against a strict run.
func (r TaskResult) Failed() bool {
	return r.Outcome == SpawnFailed || r.Err != nil || r.ExitCode != 0 || len(r.ReadErrs) > 0
}

// Statistics holds aggregate counters
type Statistics struct {
	StartTime   time.Time
	TotalHosts  int
	Completed   int
	SpawnFailed int
	NonZeroExit int
	ReadErrors  int
	WriteFails  int
	TotalLines  int
}

// Report collects task results from concurrent tasks.
type Report struct {
	mu      sync.Mutex
	stats   Statistics
	results []TaskResult
}

// NewReport creates a report for a run over totalHosts targets.
func NewReport(totalHosts int) *Report {
	return &Report{
		stats: Statistics{
			StartTime:  time.Now(),
			TotalHosts: totalHosts,
		},
		results: make([]TaskResult, 0, totalHosts),
	}
}

// Record adds one finished task.
func (r *Report) Record(result TaskResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.results = append(r.results, result)
	r.stats.TotalLines += result.Lines
	r.stats.ReadErrors += len(result.ReadErrs)
	r.stats.WriteFails += result.WriteFails

	switch result.Outcome {
	case SpawnFailed:
		r.stats.SpawnFailed++
	default:
		r.stats.Completed++
		if result.ExitCode != 0 {
			r.stats.NonZeroExit++
		}
	}
}

// Statistics returns a copy of the counters
func (r *Report) Statistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Results returns the recorded results ordered by host index.
func (r *Report) Results() []TaskResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TaskResult, len(r.results))
	copy(out, r.results)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// Elapsed returns the time since the report was created.
func (r *Report) Elapsed() time.Duration {
	return time.Since(r.stats.StartTime)
}

// Err folds every failed task into one error, or nil if all succeeded.
func (r *Report) Err() error {
	var result *multierror.Error

	for _, res := range r.Results() {
		if res.Err != nil {
			result = multierror.Append(result, res.Err)
		}
		if res.Outcome == Completed && res.Err == nil && res.ExitCode != 0 {
			result = multierror.Append(result, &errors.ExecutionError{Host: res.Host, ExitCode: res.ExitCode})
		}
		for _, readErr := range res.ReadErrs {
			result = multierror.Append(result, readErr)
		}
	}

	return result.ErrorOrNil()
}

// Summary returns a one-line description of the run.
func (r *Report) Summary() string {
	s := r.Statistics()
	summary := fmt.Sprintf("%d hosts: %d completed (%d non-zero exit), %d failed to spawn, %d read errors",
		s.TotalHosts, s.Completed, s.NonZeroExit, s.SpawnFailed, s.ReadErrors)
	if s.WriteFails > 0 {
		summary += fmt.Sprintf(", %d lines lost to output write failures", s.WriteFails)
	}
	return summary
}
