package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestBatchResult(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "json").WithRunID("run-1")

	log.BatchResult(2, 5, 50, false, 429, "throttled")

	entry := decode(t, &buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, float64(2), entry["batch"])
	assert.Equal(t, float64(429), entry["status"])
	assert.Equal(t, "throttled", entry["detail"])
	assert.Equal(t, false, entry["succeeded"])
}

func TestRunFinished(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "json").WithComponent("dispatch")

	log.RunFinished("completed", 3, 3, 0, "")

	entry := decode(t, &buf)
	assert.Equal(t, "dispatch", entry["component"])
	assert.Equal(t, "completed", entry["state"])
	assert.NotContains(t, entry, "reason")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "warn", "json")

	log.BatchResult(1, 1, 10, true, 0, "")
	assert.Zero(t, buf.Len())

	log.BatchResult(1, 1, 10, false, 500, "")
	assert.NotZero(t, buf.Len())
}
