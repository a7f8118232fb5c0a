package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadDefaults(t *testing.T) {
	// empty values are ignored by viper
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")

	cfg, err := load(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "X-External-User-ID", cfg.Auth.IdentityHeader)
	assert.True(t, cfg.Auth.TrustIdentityHeader)
	assert.False(t, cfg.Auth.DevLogin, "the development login is opt-in")
	assert.True(t, cfg.Engine.AsyncRecompute)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, "00:05", cfg.Scheduler.GenerateAt)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.RecomputeInterval)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, time.UTC, cfg.Engine.Location())
}

func TestLoadMergesLocalFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
server:
  port: "9000"
engine:
  timezone: Europe/Berlin
  workers: 8
scheduler:
  recompute_interval: 5m
`)
	writeFile(t, dir, "config.local.yaml", `
engine:
  workers: 2
redis:
  enabled: true
`)

	cfg, err := load(viper.New(), dir)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "Europe/Berlin", cfg.Engine.Timezone)
	assert.Equal(t, 2, cfg.Engine.Workers, "local file wins")
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RecomputeInterval)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "server:\n  port: \"9000\"\n")

	t.Setenv("STUDYQUEST_SERVER_PORT", "7000")
	t.Setenv("STUDYQUEST_ENGINE_ASYNC_RECOMPUTE", "false")
	t.Setenv("DATABASE_URL", "postgres://quest@localhost/quest")

	cfg, err := load(viper.New(), dir)
	require.NoError(t, err)

	assert.Equal(t, "7000", cfg.Server.Port)
	assert.False(t, cfg.Engine.AsyncRecompute)
	assert.Equal(t, "postgres://quest@localhost/quest", cfg.Database.DSN)
}

func TestLoadAuthSwitches(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", `
auth:
  trust_identity_header: false
`)
	t.Setenv("STUDYQUEST_AUTH_DEV_LOGIN", "true")

	cfg, err := load(viper.New(), dir)
	require.NoError(t, err)

	assert.False(t, cfg.Auth.TrustIdentityHeader)
	assert.True(t, cfg.Auth.DevLogin)
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "config.yaml", "server: [unclosed\n")

	_, err := load(viper.New(), dir)
	assert.Error(t, err)
}

func TestLocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, EngineConfig{Timezone: "Mars/Olympus"}.Location())
}
