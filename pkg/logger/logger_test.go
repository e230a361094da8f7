package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLogLevel("WARNING"))
	assert.Equal(t, InfoLevel, ParseLogLevel("bogus"))
}

func TestZerologBackendEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Type: ZerologLogger, Level: InfoLevel, Output: &buf, Format: "json", ServiceName: "qcore", Version: "test"})
	require.NoError(t, err)

	log.Info("schema updated", Fields{"entity_type": "User"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "schema updated", entry["message"])
	assert.Equal(t, "User", entry["entity_type"])
	assert.Equal(t, "qcore", entry["service"])
}

func TestZerologLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Type: ZerologLogger, Level: WarnLevel, Output: &buf, Format: "json"})
	require.NoError(t, err)

	log.Debug("dropped")
	log.Info("dropped too")
	assert.Zero(t, buf.Len())

	log.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestSlogBackendEmitsFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Type: SlogLogger, Level: DebugLevel, Output: &buf, Format: "json"})
	require.NoError(t, err)

	log.Debug("cell written", Fields{"entity_id": "7", "field_type": "Name"})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "cell written", entry["msg"])
	assert.Equal(t, "7", entry["entity_id"])
}

func TestWithFieldsCarriesContext(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Type: ZerologLogger, Level: InfoLevel, Output: &buf, Format: "json"})
	require.NoError(t, err)

	scoped := log.WithFields(Fields{"request_id": "abc"})
	scoped.Info("write accepted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "abc", entry["request_id"])
}

func TestUnknownTypeRejected(t *testing.T) {
	_, err := New(Config{Type: "log4j"})
	assert.Error(t, err)
}
