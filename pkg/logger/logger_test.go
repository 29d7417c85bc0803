package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_ScopedFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter("slotting-service", &buf).
		WithComponent("planner").
		WithTenantID("tenant-1").
		WithRunID("run-1")

	log.Info().Int("placements", 3).Msg("plan completed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "slotting-service", line["service"])
	assert.Equal(t, "planner", line["component"])
	assert.Equal(t, "tenant-1", line["tenant_id"])
	assert.Equal(t, "run-1", line["run_id"])
	assert.Equal(t, float64(3), line["placements"])
	assert.Equal(t, "plan completed", line["message"])
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() { Nop().Error().Msg("dropped") })
}
