package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, Options{Level: "info", Format: "json"})
	require.NoError(t, err)

	log.Debug("hidden")
	log.Info("appended", zap.Uint64("seq", 7))
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "appended", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.EqualValues(t, 7, entry["seq"])
	assert.Contains(t, entry, "ts")
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(&buf, Options{Level: "DEBUG"})
	require.NoError(t, err)

	log.Debug("replay", zap.String("ledger", "events.jsonl"))
	assert.Contains(t, buf.String(), "replay")
	assert.Contains(t, buf.String(), "events.jsonl")
}

func TestRejectsBadOptions(t *testing.T) {
	_, err := New(&bytes.Buffer{}, Options{Format: "xml"})
	require.Error(t, err)

	_, err = New(&bytes.Buffer{}, Options{Level: "loud"})
	require.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zapcore.InfoLevel, l)

	l, err = ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	log := zap.NewExample()
	assert.Same(t, log, OrNop(log))
}
