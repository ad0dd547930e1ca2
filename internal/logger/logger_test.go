package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "debug")
	lg.Info("stream opened", LogFields{"stream_id": 7, "priority": 2})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stream opened", entry["message"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, float64(7), entry["stream_id"])
	assert.Equal(t, float64(2), entry["priority"])
	assert.Contains(t, entry, "time")
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "warn")
	lg.Debug("hidden", nil)
	lg.Info("hidden", nil)
	assert.Zero(t, buf.Len())

	lg.Warn("visible", nil)
	assert.NotZero(t, buf.Len())
}

func TestLoggerUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "chatty")
	lg.Debug("hidden", nil)
	assert.Zero(t, buf.Len())
	lg.Info("visible", nil)
	assert.NotZero(t, buf.Len())
}

func TestLoggerDebugf(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, "debug")
	lg.Debugf("draining %d frames", 3)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "draining 3 frames", entry["message"])
}

func TestNopLoggerDiscards(t *testing.T) {
	lg := Nop()
	lg.Error("nothing happens", LogFields{"k": "v"})
}
