package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axondata/go-fapctl/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, exists, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, "fapolicyd", cfg.Service.Name)
	assert.Equal(t, 5*time.Second, cfg.WatchInterval())
	assert.Equal(t, "online", cfg.Service.Mode)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fapctl.toml")
	content := `
[service]
name = "fapolicyd.service"
mode = "Disabled"

[profiling]
log_dir = "/srv/logs"
startup_delay_ms = 250
stop_grace_seconds = 3

[logging]
format = "JSON"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "fapolicyd", cfg.Service.Name)
	assert.Equal(t, "disabled", cfg.Service.Mode)
	assert.Equal(t, "/srv/logs", cfg.Profiling.LogDir)
	assert.Equal(t, 250*time.Millisecond, cfg.StartupDelay())
	assert.Equal(t, 3*time.Second, cfg.StopGrace())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "systemctl", cfg.Service.SystemctlPath, "unset keys keep defaults")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fapctl.toml")
	require.NoError(t, os.WriteFile(path, []byte("[service]\nbogus = 1\n"), 0o644))

	_, _, err := config.Load(path)
	require.Error(t, err)
}

func TestLoadValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fapctl.toml")
	require.NoError(t, os.WriteFile(path, []byte("[watch]\ninterval_seconds = 0\n"), 0o644))

	_, exists, err := config.Load(path)
	require.Error(t, err)
	assert.True(t, exists)
	assert.Contains(t, err.Error(), "watch.interval_seconds")
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "fapctl.toml")

	cfg := config.Default()
	cfg.Profiling.LogDir = "/tmp/profiles"
	cfg.Watch.WakePath = "/run/fapolicyd"
	require.NoError(t, cfg.Save(path))

	loaded, exists, err := config.Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, cfg, *loaded)
}
