package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lirancohen/workhub/internal/config"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := Component(NewWithWriter(config.LogConfig{Level: "info", Format: "json"}, &buf), "hub")

	l.Debug().Msg("hidden")
	l.Info().Str("scope", "workspace:w1").Msg("broadcast")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "hub", entry["component"])
	assert.Equal(t, "workspace:w1", entry["scope"])
	assert.Equal(t, "broadcast", entry["message"])
}

func TestNewWithWriter_DebugLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(config.LogConfig{Level: "debug", Format: "console"}, &buf)
	l.Debug().Msg("visible")
	assert.Contains(t, buf.String(), "visible")
}
