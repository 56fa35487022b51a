// Perch - Nearby Point-of-Interest Recommendation Service
// Copyright 2026 Perch Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perch-labs/perch

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8470, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 30, cfg.Aggregate.TargetCandidates)
	assert.Equal(t, 50_000, cfg.Aggregate.MaxRadiusMeters)
	assert.Equal(t, 72*time.Hour, cfg.Store.Cooldowns.DeclinedCooldown)
	assert.False(t, cfg.Sources.Places.Enabled, "adapters are opt-in")
	assert.False(t, cfg.Sources.Events.Enabled)
	assert.False(t, cfg.Sources.Directory.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9001")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PLACES_ENABLED", "true")
	t.Setenv("PLACES_BASE_URL", "https://places.example.com/api")
	t.Setenv("PLACES_API_KEY", "secret")
	t.Setenv("STORE_PATH", "/tmp/perch-test.db")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Sources.Places.Enabled)
	assert.Equal(t, "https://places.example.com/api", cfg.Sources.Places.BaseURL)
	assert.Equal(t, "secret", cfg.Sources.Places.APIKey)
	assert.Equal(t, "/tmp/perch-test.db", cfg.Store.Path)
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9100
aggregate:
  target_candidates: 45
engine:
  default_count: 15
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 45, cfg.Aggregate.TargetCandidates)
	assert.Equal(t, 15, cfg.Engine.DefaultCount)
	// Untouched sections keep their defaults.
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestEnvBeatsConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0o600))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("HTTP_PORT", "9200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestLoadCORSOriginsFromEnv(t *testing.T) {
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://admin.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t,
		[]string{"https://app.example.com", "https://admin.example.com"},
		cfg.Server.CORSOrigins)
}

func TestLoadRejectsInvalidLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging")
}

func TestLoadRejectsInvalidPort(t *testing.T) {
	t.Setenv("HTTP_PORT", "70000")

	_, err := Load()
	require.Error(t, err)
}

func TestUnmappedEnvVarsIgnored(t *testing.T) {
	t.Setenv("RANDOM_UNRELATED_VAR", "true")

	_, err := Load()
	assert.NoError(t, err)
}

func TestValidateRejectsBadSubsystemConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Aggregate.RadiusMultiplier = 1.0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aggregate")
}
