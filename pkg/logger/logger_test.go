package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLogger_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := newJSONLogger(&buf, "qatmarket-test", "info")

	log.Info("wallet credited", map[string]interface{}{
		"user_id": "u-1",
		"amount":  "25.00",
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "qatmarket-test", entry["service"])
	assert.Equal(t, "wallet credited", entry["message"])
	assert.Equal(t, "u-1", entry["user_id"])
	assert.Equal(t, "25.00", entry["amount"])
	assert.NotEmpty(t, entry["time"])
}

func TestJSONLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newJSONLogger(&buf, "qatmarket-test", "warn")

	log.Debug("hidden", nil)
	log.Info("hidden", nil)
	assert.Zero(t, buf.Len())

	log.Warn("shown", nil)
	assert.Contains(t, buf.String(), `"shown"`)
}

func TestJSONLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := newJSONLogger(&buf, "qatmarket-test", "loud")

	log.Debug("hidden", nil)
	assert.Zero(t, buf.Len())
	log.Info("shown", nil)
	assert.NotZero(t, buf.Len())
}
