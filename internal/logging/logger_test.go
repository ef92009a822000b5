package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriterProductionEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewWithWriter(&buf, "production", "info"), "cache")

	logger.Debug().Msg("hidden")
	logger.Info().Str("job_id", "j1").Msg("visible")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "visible", entry["message"])
	assert.Equal(t, "cache", entry["component"])
	assert.Equal(t, "j1", entry["job_id"])
}

func TestNewWithWriterFallsBackOnBadLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "production", "chatty")
	logger.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	AsynqLogger{L: logger}.Warn("queue ", "slow")
	assert.Contains(t, buf.String(), "queue slow")
}
