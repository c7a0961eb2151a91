package observability

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureOutput(fn func()) string {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(log.Writer())
	fn()
	return buf.String()
}

func TestStandardLogger_Info(t *testing.T) {
	logger := NewStandardLogger("test")

	output := captureOutput(func() {
		logger.Info("hello", map[string]interface{}{"key": "value"})
	})

	assert.Contains(t, output, "[INFO]")
	assert.Contains(t, output, "[test]")
	assert.Contains(t, output, "hello")
	assert.Contains(t, output, "key=value")
}

func TestStandardLogger_DebugSuppressedAtInfoLevel(t *testing.T) {
	logger := NewStandardLogger("test")

	output := captureOutput(func() {
		logger.Debug("should not appear", nil)
	})

	assert.NotContains(t, output, "should not appear")
}

func TestStandardLogger_WithLevel(t *testing.T) {
	logger := NewStandardLogger("test").(*StandardLogger).WithLevel(LogLevelDebug)

	output := captureOutput(func() {
		logger.Debug("debug message", nil)
	})

	assert.Contains(t, output, "[DEBUG]")
	assert.Contains(t, output, "debug message")
}

func TestStandardLogger_WithFields(t *testing.T) {
	logger := NewStandardLogger("test").With(map[string]interface{}{"component": "engine"})

	output := captureOutput(func() {
		logger.Info("message", map[string]interface{}{"extra": 1})
	})

	assert.Contains(t, output, "component=engine")
	assert.Contains(t, output, "extra=1")
}

func TestStandardLogger_WithPrefix(t *testing.T) {
	logger := NewStandardLogger("parent").WithPrefix("child")

	output := captureOutput(func() {
		logger.Info("message", nil)
	})

	assert.Contains(t, output, "[child]")
	assert.NotContains(t, output, "[parent]")
}

func TestNoopLogger_ProducesNoOutput(t *testing.T) {
	logger := NewNoopLogger()

	output := captureOutput(func() {
		logger.Info("invisible", map[string]interface{}{"key": "value"})
		logger.Errorf("also invisible %d", 42)
	})

	assert.Empty(t, output)
}
