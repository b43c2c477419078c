package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/workbench/internal/config"
)

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("log_level = \"warn\"\n\n[server]\nport = 4000\nroot = \"/ide\"\n"), 0644))

	opts, err := parseArgs([]string{"--config", path, "--port", "5000", "--hostname", "0.0.0.0"})
	require.NoError(t, err)

	cfg, err := loadConfig(opts)
	require.NoError(t, err)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "/ide/", cfg.RootPath(), "unset flags keep file values")
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.False(t, cfg.Server.Pprof)
}

func TestPprofAndPidfileFlags(t *testing.T) {
	pid := filepath.Join(t.TempDir(), "workbench.pid")
	opts, err := parseArgs([]string{"--config", filepath.Join(t.TempDir(), "none.json"), "--pprof", "--pidfile", pid})
	require.NoError(t, err)

	cfg, err := loadConfig(opts)
	require.NoError(t, err)
	assert.True(t, cfg.Server.Pprof)
	assert.Equal(t, pid, cfg.Server.PidFile)
}

func TestFlagOverridesEnv(t *testing.T) {
	t.Setenv(config.EnvLogLevel, "debug")
	opts, err := parseArgs([]string{"--config", filepath.Join(t.TempDir(), "none.json"), "--log-level", "error"})
	require.NoError(t, err)

	cfg, err := loadConfig(opts)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestInvalidFlags(t *testing.T) {
	_, err := parseArgs([]string{"extra"})
	assert.Error(t, err)

	opts, err := parseArgs([]string{"--config", filepath.Join(t.TempDir(), "none.json"), "--ssl"})
	require.NoError(t, err)
	_, err = loadConfig(opts)
	assert.ErrorContains(t, err, "server.ssl")
}
