package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false
	mu.Unlock()

	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}

	return buf, cleanup
}

func TestLevelFiltering(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("WARN")
	Debug("should not appear")
	Info("should not appear either")
	Warn("should appear", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestSetLevelIgnoresInvalid(t *testing.T) {
	SetLevel("INFO")
	defer SetLevel("INFO")

	SetLevel("NOT_A_LEVEL")
	require.Equal(t, LevelInfo, Level(currentLevel.Load()))
}

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("json")
	defer SetFormat("text")
	SetLevel("DEBUG")
	defer SetLevel("INFO")

	Info("flags cleared", "elementCount", 8)

	var decoded map[string]any
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &decoded))
	assert.Equal(t, "flags cleared", decoded["msg"])
	assert.Equal(t, float64(8), decoded["elementCount"])
}

func TestWithBindsFields(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetFormat("json")
	defer SetFormat("text")

	bound := With("component", "bulkdata")
	bound.Info("lock acquired")

	assert.Contains(t, buf.String(), `"component":"bulkdata"`)
}

func TestPrintfCompatibility(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	Infof("async fetch for %q completed in %dms", "texture.bin", 42)
	assert.Contains(t, buf.String(), `async fetch for "texture.bin" completed in 42ms`)
}
