package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerDefaultConfig(t *testing.T) {
	logger := NewLogger(nil)
	require.NotNil(t, logger)
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	assert.Empty(t, buf.String())

	logger.Warn("warning message")
	assert.Contains(t, buf.String(), "warning message")
}

func TestLoggerWithEngine(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	engineLogger := logger.WithEngine(3)
	engineLogger.Info("opened")

	output := buf.String()
	assert.True(t, strings.Contains(output, "engine=3"))
	assert.True(t, strings.Contains(output, "opened"))
}

func TestLoggerWithTaskAndRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	reqLogger := logger.WithTask(1234).WithRequest(7)
	reqLogger.Debugf("submitted %d fragments", 3)

	output := buf.String()
	assert.Contains(t, output, "task=1234")
	assert.Contains(t, output, "req=7")
	assert.Contains(t, output, "submitted 3 fragments")
}

func TestFormatArgs(t *testing.T) {
	assert.Equal(t, "", formatArgs(nil))
	assert.Equal(t, " a=1", formatArgs([]any{"a", 1}))
	assert.Equal(t, " a=1 b=2", formatArgs([]any{"a", 1, "b", 2}))
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetDefault(NewLogger(&Config{Level: LevelDebug, Output: &buf}))

	Debug("debug message", "key", "value")
	assert.Contains(t, buf.String(), "debug message")
	assert.Contains(t, buf.String(), "key=value")

	buf.Reset()
	Info("info message")
	assert.Contains(t, buf.String(), "info message")

	buf.Reset()
	Warn("warning message")
	assert.Contains(t, buf.String(), "warning message")

	buf.Reset()
	Error("error message")
	assert.Contains(t, buf.String(), "error message")
}
