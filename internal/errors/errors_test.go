package errors

import (
	"fmt"
	"io/fs"
	"os/exec"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySpawn(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want SpawnKind
	}{
		{"nil", nil, SpawnOther},
		{"missing binary", &exec.Error{Name: "ssh", Err: exec.ErrNotFound}, SpawnNotFound},
		{"missing path", &fs.PathError{Op: "fork/exec", Path: "/nope/ssh", Err: syscall.ENOENT}, SpawnNotFound},
		{"not executable", &fs.PathError{Op: "fork/exec", Path: "/tmp/ssh", Err: syscall.EACCES}, SpawnPermission},
		{"too many files", fmt.Errorf("pipe: %w", syscall.EMFILE), SpawnResourceExhausted},
		{"handshake", fmt.Errorf("ssh: handshake failed: EOF"), SpawnConnection},
		{"auth", fmt.Errorf("ssh: unable to authenticate, attempted methods [none publickey]"), SpawnAuthentication},
		{"other", fmt.Errorf("something odd"), SpawnOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySpawn(tt.err))
		})
	}
}

func TestTypeOfLooksThroughWrapping(t *testing.T) {
	spawn := NewSpawnError("h1", exec.ErrNotFound)
	assert.Equal(t, SpawnErrorType, TypeOf(fmt.Errorf("task: %w", spawn)))
	assert.Equal(t, ValidationErrorType, TypeOf(NewValidationError("bad", nil)))
	assert.Equal(t, StreamReadErrorType, TypeOf(&StreamReadError{Host: "h1", Stream: "stdout"}))
	assert.Equal(t, ExecutionErrorType, TypeOf(&ExecutionError{Host: "h1", ExitCode: 3}))
	assert.Equal(t, UnknownErrorType, TypeOf(fmt.Errorf("plain")))
	assert.Equal(t, UnknownErrorType, TypeOf(nil))
}

func TestSpawnErrorUnwraps(t *testing.T) {
	err := NewSpawnError("h2", exec.ErrNotFound)
	assert.ErrorIs(t, err, exec.ErrNotFound)
	assert.Equal(t, SpawnNotFound, err.Kind)
	assert.Contains(t, err.Error(), "h2")
}
