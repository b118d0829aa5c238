package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Binding)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 3, cfg.Schedule.HorizonMonths)
	assert.Equal(t, float64(1), cfg.Notifications.PerSecond)
}

func TestLoadYAMLWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis:6379")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  binding: memory
redis:
  address: ${TEST_REDIS_ADDR}
http:
  port: 9001
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Binding)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.Equal(t, 9001, cfg.HTTP.Port)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  port: 9001\n"), 0o644))
	t.Setenv("SCHEDBOARD_HTTP_PORT", "9002")
	t.Setenv("SCHEDBOARD_STORE_BINDING", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9002, cfg.HTTP.Port)
	assert.Equal(t, "memory", cfg.Store.Binding)
}
