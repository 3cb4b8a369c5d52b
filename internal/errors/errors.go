// Package errors provides the error taxonomy and classification for sshmux.
package errors

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"net"
	"os/exec"
	"strings"
	"syscall"
)

// ErrorType represents the classification of errors
type ErrorType int

const (
	// ValidationErrorType represents configuration errors found before any task starts
	ValidationErrorType ErrorType = iota

	// SpawnErrorType represents a remote command that could not be launched for one host
	SpawnErrorType

	// StreamReadErrorType represents a failed read on one output stream of one host
	StreamReadErrorType

	// ExecutionErrorType represents a remote command that exited non-zero
	ExecutionErrorType

	// UnknownErrorType represents unclassified errors
	UnknownErrorType
)

// String returns a string representation of the error type
func (et ErrorType) String() string {
	switch et {
	case ValidationErrorType:
		return "validation"
	case SpawnErrorType:
		return "spawn"
	case StreamReadErrorType:
		return "stream_read"
	case ExecutionErrorType:
		return "execution"
	default:
		return "unknown"
	}
}

// SpawnKind narrows down why a launch failed
type SpawnKind int

const (
	SpawnOther SpawnKind = iota
	SpawnNotFound
	SpawnPermission
	SpawnResourceExhausted
	SpawnConnection
	SpawnAuthentication
)

func (k SpawnKind) String() string {
	switch k {
	case SpawnNotFound:
		return "not_found"
	case SpawnPermission:
		return "permission"
	case SpawnResourceExhausted:
		return "resource_exhausted"
	case SpawnConnection:
		return "connection"
	case SpawnAuthentication:
		return "authentication"
	default:
		return "other"
	}
}

// ValidationError is fatal to the whole run and is raised before any task starts.
type ValidationError struct {
	Message  string
	Original error
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Original != nil {
		return e.Original.Error()
	}
	return "invalid configuration"
}

func (e *ValidationError) Unwrap() error {
	return e.Original
}

// NewValidationError creates a new validation error
func NewValidationError(message string, original error) *ValidationError {
	return &ValidationError{Message: message, Original: original}
}

// SpawnError reports a remote command that never started on one host.
type SpawnError struct {
	Host     string
	Kind     SpawnKind
	Original error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s: failed to spawn ssh command: %v", e.Host, e.Original)
}

func (e *SpawnError) Unwrap() error {
	return e.Original
}

// NewSpawnError wraps a launch failure and classifies it
func NewSpawnError(host string, original error) *SpawnError {
	return &SpawnError{Host: host, Kind: ClassifySpawn(original), Original: original}
}

// StreamReadError reports a read failure on one output stream of one host.
type StreamReadError struct {
	Host     string
	Stream   string
	Original error
}

func (e *StreamReadError) Error() string {
	return fmt.Sprintf("%s: error reading %s: %v", e.Host, e.Stream, e.Original)
}

func (e *StreamReadError) Unwrap() error {
	return e.Original
}

// ExecutionError reports a remote command that exited with a non-zero status.
type ExecutionError struct {
	Host     string
	ExitCode int
	Original error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: command exited with status %d", e.Host, e.ExitCode)
}

func (e *ExecutionError) Unwrap() error {
	return e.Original
}

// TypeOf returns the ErrorType of err, looking through wrapped errors.
func TypeOf(err error) ErrorType {
	var (
		validationErr *ValidationError
		spawnErr      *SpawnError
		streamErr     *StreamReadError
		execErr       *ExecutionError
	)

	switch {
	case err == nil:
		return UnknownErrorType
	case stderrors.As(err, &validationErr):
		return ValidationErrorType
	case stderrors.As(err, &spawnErr):
		return SpawnErrorType
	case stderrors.As(err, &streamErr):
		return StreamReadErrorType
	case stderrors.As(err, &execErr):
		return ExecutionErrorType
	default:
		return UnknownErrorType
	}
}

// ClassifySpawn analyzes a launch failure. Typed checks run first; the
// keyword lists cover errors that only carry a message, such as the ones
// returned by the ssh handshake.
func ClassifySpawn(err error) SpawnKind {
	if err == nil {
		return SpawnOther
	}

	switch {
	case stderrors.Is(err, exec.ErrNotFound), stderrors.Is(err, fs.ErrNotExist):
		return SpawnNotFound
	case stderrors.Is(err, fs.ErrPermission):
		return SpawnPermission
	case stderrors.Is(err, syscall.EAGAIN),
		stderrors.Is(err, syscall.EMFILE),
		stderrors.Is(err, syscall.ENFILE),
		stderrors.Is(err, syscall.ENOMEM):
		return SpawnResourceExhausted
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return SpawnConnection
	}

	errStr := strings.ToLower(err.Error())
	if containsAny(errStr, authKeywords) {
		return SpawnAuthentication
	}
	if containsAny(errStr, connectionKeywords) {
		return SpawnConnection
	}

	return SpawnOther
}

var authKeywords = []string{
	"unable to authenticate",
	"no supported authentication methods",
	"permission denied (publickey)",
	"key is unknown",
	"key mismatch",
	"no authentication methods available",
}

var connectionKeywords = []string{
	"connection refused",
	"connection reset",
	"no route to host",
	"network unreachable",
	"host unreachable",
	"handshake failed",
	"i/o timeout",
	"unexpected eof",
}

func containsAny(s string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}
