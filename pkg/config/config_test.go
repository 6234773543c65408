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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5001, cfg.HeartbeatPort)
	assert.Equal(t, 2*time.Second, cfg.ReachableTimeout.Std())
	assert.Equal(t, 30*24*time.Hour, cfg.ArchiveHorizon.Std())
	assert.Equal(t, "/var/lib/swarmsync", cfg.DataDir)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /tmp/swarmsync
heartbeat_port: 6001
reachable_timeout: 5s
archive_horizon: 168h
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/swarmsync", cfg.DataDir)
	assert.Equal(t, 6001, cfg.HeartbeatPort)
	assert.Equal(t, 5*time.Second, cfg.ReachableTimeout.Std())
	assert.Equal(t, 7*24*time.Hour, cfg.ArchiveHorizon.Std())
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "core.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_dir: /from/file\n"), 0o644))

	t.Setenv("SWARMSYNC_DATA_DIR", "/from/env")
	t.Setenv("DATABASE_URL", "/from/env/core.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/from/env", cfg.DataDir)
	assert.Equal(t, "/from/env/core.db", cfg.DatabasePath)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "bad port", yaml: "heartbeat_port: -1\n"},
		{name: "zero timeout", yaml: "reachable_timeout: 0s\n"},
		{name: "negative horizon", yaml: "archive_horizon: -1h\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "core.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
