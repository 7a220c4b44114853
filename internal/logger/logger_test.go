package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" warning "))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel(""))
	assert.Equal(t, INFO, ParseLevel("chatty"))
}

func TestLogger_FiltersBelowMinLevel(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "warn", NoColor: true, Out: &buf})
	require.NoError(t, err)

	l.Info("COORDINATOR", "hidden")
	l.Warn("redis", "lock wait exceeded")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN")
	assert.Contains(t, out, "[REDIS")
	assert.Contains(t, out, "lock wait exceeded")
}

func TestLogger_WritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Options{Service: "test-svc", Dir: dir, NoColor: true, Out: &bytes.Buffer{}})
	require.NoError(t, err)

	l.LogEvent("JOIN", "evt-1", "request appended")
	l.Close()

	matches, err := filepath.Glob(filepath.Join(dir, "test-svc-*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()

	var last LogEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &last))
	}
	assert.Equal(t, "INFO", last.Level)
	assert.Equal(t, "COORDINATOR", last.Category)
	assert.Equal(t, "[JOIN] evt-1 - request appended", last.Message)
}

func TestLogger_FatalExits(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{NoColor: true, Out: &buf})
	require.NoError(t, err)

	code := -1
	l.exit = func(c int) { code = c }
	l.Fatal("CONFIG", "missing dsn")

	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "missing dsn")
}

func TestNilAndNopLoggersAreSafe(t *testing.T) {
	var l *Logger
	l.Info("X", "no panic")
	l.Close()

	NewNop().Error("X", "discarded")
}
