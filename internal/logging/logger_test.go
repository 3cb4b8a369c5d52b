package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sshmux/internal/target"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerFromConfig("warn", "text", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestJSONSpawnErrorOmitsIdentityFile(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerFromConfig("debug", "json", &buf)

	tgt := target.Target{Host: "h1", User: "u1", IdentityFile: "/secret/key"}
	logger.LogSpawnError(0, tgt, "not_found", fmt.Errorf("exec: \"ssh\": executable file not found"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "remote command spawn failed", entry["msg"])
	assert.Equal(t, "h1", entry["host"])
	assert.EqualValues(t, 22, entry["port"])
	assert.NotContains(t, buf.String(), "/secret/key")
}

func TestUnknownLevelFallsBackToWarn(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerFromConfig("chatty", "whatever", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
