package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForTaskCarriesTaskID(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })

	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, Output: &buf})

	logger := ForTask("task-42")
	logger.Info().Msg("state transition")

	out := buf.String()
	assert.Contains(t, out, `"task":"task-42"`)
	assert.Contains(t, out, "state transition")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, InfoLevel, ParseLevel("not-a-level"))
}
