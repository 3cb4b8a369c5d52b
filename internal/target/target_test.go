package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sshmux/internal/errors"
)

func TestDestinationAndPort(t *testing.T) {
	h1 := Target{Host: "h1", User: "u1", Port: 22}
	h2 := Target{Host: "h2"}

	assert.Equal(t, "u1@h1", h1.Destination())
	assert.Equal(t, "h2", h2.Destination())
	assert.Equal(t, 22, h1.EffectivePort())
	assert.Equal(t, DefaultPort, h2.EffectivePort())
	assert.Equal(t, "h2:22", h2.Address())
	assert.Equal(t, 2222, Target{Host: "h3", Port: 2222}.EffectivePort())
}

func TestValidateTargets(t *testing.T) {
	dup := []Target{{Host: "h1", User: "u1"}, {Host: "h1", User: "u1", Port: 2222}}

	t.Run("empty hostname", func(t *testing.T) {
		err := ValidateTargets([]Target{{Host: "h1"}, {Host: "   "}}, false)
		require.Error(t, err)
		assert.Equal(t, errors.ValidationErrorType, errors.TypeOf(err))
		assert.Equal(t, "Host entry at index 1 is missing a hostname.", err.Error())
	})

	t.Run("duplicate rejected", func(t *testing.T) {
		err := ValidateTargets(dup, false)
		require.Error(t, err)
		assert.Equal(t, "Duplicate host entry found: 'u1@h1'. Use --force to override.", err.Error())
	})

	t.Run("duplicate forced", func(t *testing.T) {
		assert.NoError(t, ValidateTargets(dup, true))
	})

	t.Run("same host different user", func(t *testing.T) {
		assert.NoError(t, ValidateTargets([]Target{{Host: "h1", User: "a"}, {Host: "h1", User: "b"}, {Host: "h1"}}, false))
	})

	t.Run("bad port", func(t *testing.T) {
		assert.EqualError(t, ValidateTargets([]Target{{Host: "h1", Port: 70000}}, false),
			"Host entry at index 0 has port 70000 out of valid range (0-65535, 0 means the default 22).")
		assert.Error(t, ValidateTargets([]Target{{Host: "h1", Port: -1}}, false))
	})

	t.Run("port bounds", func(t *testing.T) {
		assert.NoError(t, ValidateTargets([]Target{{Host: "h1", Port: 0}, {Host: "h2", Port: 65535}}, false))
	})

	t.Run("force does not skip empty hostname", func(t *testing.T) {
		assert.Error(t, ValidateTargets([]Target{{Host: ""}}, true))
	})

	t.Run("no targets", func(t *testing.T) {
		assert.NoError(t, ValidateTargets(nil, false))
	})
}
