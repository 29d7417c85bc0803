package config

import (
	"fmt"
	"os"
	"strings"
)

const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

const environmentVar = "MEDFLOW_SERVER_ENVIRONMENT"

var environmentAliases = map[string]string{
	"":            EnvDevelopment,
	"dev":         EnvDevelopment,
	"local":       EnvDevelopment,
	"development": EnvDevelopment,
	"test":        EnvTest,
	"ci":          EnvTest,
	"stage":       EnvStaging,
	"staging":     EnvStaging,
	"prod":        EnvProduction,
	"production":  EnvProduction,
}

// ParseEnvironment normalizes an environment name and its short aliases.
func ParseEnvironment(raw string) (string, error) {
	env, ok := environmentAliases[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", fmt.Errorf("unknown environment %q", raw)
	}
	return env, nil
}

// GetEnvironment reads the environment before the config is loaded.
// Unknown values fall back to development; LoadWithValidation rejects them.
func GetEnvironment() string {
	env, err := ParseEnvironment(os.Getenv(environmentVar))
	if err != nil {
		return EnvDevelopment
	}
	return env
}

// IsDevelopment reports whether the service runs locally.
func IsDevelopment() bool {
	return GetEnvironment() == EnvDevelopment
}

// IsProductionLike reports staging or production.
func IsProductionLike() bool {
	return productionLike(GetEnvironment())
}

func productionLike(env string) bool {
	return env == EnvStaging || env == EnvProduction
}
