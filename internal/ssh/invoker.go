// Package ssh launches a command on one remote host and exposes its output
// streams.
package ssh

import (
	"context"
	stderrors "errors"
	"io"
	"os/exec"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"sshmux/internal/errors"
	"sshmux/internal/logging"
	"sshmux/internal/target"
)

// DefaultBinary is the ssh client looked up on PATH.
const DefaultBinary = "ssh"

// Process is a running remote command.
type Process interface {
	// Stdout returns the reader for the remote standard output.
	Stdout() io.Reader

	// Stderr returns the reader for the remote standard error.
	Stderr() io.Reader

	// Wait blocks until the command exits. Callers must drain both readers
	// first. The error is non-nil only when no exit status is available.
	Wait() (exitCode int, err error)
}

// Invoker starts a command on one target.
type Invoker interface {
	// Invoke launches command on t. A launch failure is a *errors.SpawnError.
	Invoke(ctx context.Context, t target.Target, command string) (Process, error)
}

// BuildArgs returns the ssh client argument vector for one target:
// -p <port> [-i <identity>] <[user@]host> <command>.
func BuildArgs(t target.Target, command string) []string {
	args := []string{"-p", strconv.Itoa(t.EffectivePort())}

	if t.IdentityFile != "" {
		args = append(args, "-i", t.IdentityFile)
	}

	return append(args, t.Destination(), command)
}

// CommandInvoker runs the external ssh client as a child process.
type CommandInvoker struct {
	binary string
	fs     afero.Fs
	logger *logging.Logger
}

// NewCommandInvoker creates an invoker for the given client binary. An
// empty binary means DefaultBinary.
func NewCommandInvoker(binary string, fs afero.Fs, logger *logging.Logger) *CommandInvoker {
	if binary == "" {
		binary = DefaultBinary
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &CommandInvoker{binary: binary, fs: fs, logger: logger}
}

// Binary returns the client executable name.
func (ci *CommandInvoker) Binary() string {
	return ci.binary
}

// Invoke starts the ssh client with stdout and stderr attached to pipes.
func (ci *CommandInvoker) Invoke(ctx context.Context, t target.Target, command string) (Process, error) {
	if t.IdentityFile != "" {
		if ok, err := afero.Exists(ci.fs, t.IdentityFile); err == nil && !ok {
			ci.logger.Warn("identity file not found, ssh will fall back to default keys", "host", t.Host)
		}
	}

	cmd := exec.CommandContext(ctx, ci.binary, BuildArgs(t, command)...)
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.NewSpawnError(t.Host, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.NewSpawnError(t.Host, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.NewSpawnError(t.Host, err)
	}

	return &commandProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type commandProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *commandProcess) Stdout() io.Reader { return p.stdout }

func (p *commandProcess) Stderr() io.Reader { return p.stderr }

func (p *commandProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}

	return -1, err
}
