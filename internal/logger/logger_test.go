package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{
		Level:       "debug",
		Environment: "test",
		ServiceName: "be-plt-approvals",
		Version:     "1.0.0",
		Output:      &buf,
	})

	log.Component("engine").Info().Str("record_id", "r1").Msg("Approval started")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "be-plt-approvals", line["service"])
	assert.Equal(t, "engine", line["component"])
	assert.Equal(t, "r1", line["record_id"])
	assert.Equal(t, "Approval started", line["message"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, parseLevel(""))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("WARN"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("chatty"))
}
