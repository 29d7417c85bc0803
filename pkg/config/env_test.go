package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvironment(t *testing.T) {
	tests := []struct {
		value string
		want  string
	}{
		{"development", EnvDevelopment},
		{"STAGING", EnvStaging},
		{"Production", EnvProduction},
		{"", EnvDevelopment},
	}

	for _, tt := range tests {
		t.Setenv("MEDFLOW_SERVER_ENVIRONMENT", tt.value)
		assert.Equal(t, tt.want, GetEnvironment(), "value %q", tt.value)
	}
}

func TestEnvironmentPredicates(t *testing.T) {
	t.Setenv("MEDFLOW_SERVER_ENVIRONMENT", "development")
	assert.True(t, IsDevelopment())
	assert.False(t, IsProductionLike())

	t.Setenv("MEDFLOW_SERVER_ENVIRONMENT", "staging")
	assert.False(t, IsDevelopment())
	assert.True(t, IsProductionLike())

	t.Setenv("MEDFLOW_SERVER_ENVIRONMENT", "production")
	assert.True(t, IsProductionLike())
}

func TestParseEnvironment(t *testing.T) {
	for raw, want := range map[string]string{"prod": EnvProduction, " Stage ": EnvStaging, "ci": EnvTest, "local": EnvDevelopment} {
		got, err := ParseEnvironment(raw)
		assert.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := ParseEnvironment("qa")
	assert.Error(t, err)
}

func TestGetEnvironment_UnknownFallsBack(t *testing.T) {
	t.Setenv("MEDFLOW_SERVER_ENVIRONMENT", "qa")
	assert.Equal(t, EnvDevelopment, GetEnvironment())
}
