package zerolog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/paysync/pkg/billing"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_WritesFields(t *testing.T) {
	var output bytes.Buffer
	logger := NewLogger(zerolog.New(&output))

	logger.Info("event processed",
		billing.Field{Key: "eventId", Value: "evt_1"},
		billing.Field{Key: "outcome", Value: billing.OutcomeUpdated})

	entry := decodeLine(t, &output)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "event processed", entry["message"])
	assert.Equal(t, "evt_1", entry["eventId"])
	assert.Equal(t, "updated", entry["outcome"])
}

func TestLogger_ErrorValues(t *testing.T) {
	var output bytes.Buffer
	logger := NewLogger(zerolog.New(&output))

	logger.Error("store failed", billing.Field{Key: "error", Value: errors.New("boom")})

	entry := decodeLine(t, &output)
	assert.Equal(t, "error", entry["level"])
	assert.Equal(t, "boom", entry["error"])
}

func TestLogger_RespectsLevel(t *testing.T) {
	var output bytes.Buffer
	logger := NewLogger(zerolog.New(&output).Level(zerolog.WarnLevel))

	logger.Debug("hidden")
	logger.Info("hidden")
	assert.Zero(t, output.Len())

	logger.Warn("shown")
	assert.NotZero(t, output.Len())
}

func TestLogger_With(t *testing.T) {
	var output bytes.Buffer
	logger := NewLogger(zerolog.New(&output)).With(billing.Field{Key: "component", Value: "scheduler"})

	logger.Info("tick")

	entry := decodeLine(t, &output)
	assert.Equal(t, "scheduler", entry["component"])
}

func TestLogger_ImplementsInterface(t *testing.T) {
	var _ billing.Logger = NewLogger(zerolog.Nop())
}
