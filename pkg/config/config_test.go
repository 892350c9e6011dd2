package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "sftp", cfg.Storage.Backend)
	assert.Equal(t, int64(DefaultMaxInMemory), cfg.Storage.MaxInMemorySize)
	assert.Equal(t, 22, cfg.Storage.SFTP.Port)
	assert.Equal(t, ".", cfg.Storage.SFTP.RootPath)
	assert.Equal(t, 30*time.Second, cfg.Storage.SFTP.DialTimeout)
	assert.False(t, cfg.Storage.SFTP.PassiveMode)
	assert.Equal(t, "us-east-1", cfg.Storage.S3.Region)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
storage:
  backend: sftp
  max_in_memory_size: 1024
  spill_directory: /var/tmp/backstore
  sftp:
    host: nas.local
    port: 2222
    user: backups
    credential: hunter2
    root_path: /volume1/backups
    passive_mode: true
    atomic_writes: true
    dial_timeout: 5s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, int64(1024), cfg.Storage.MaxInMemorySize)
	assert.Equal(t, "/var/tmp/backstore", cfg.Storage.SpillDirectory)
	assert.Equal(t, SFTP{
		Host:         "nas.local",
		Port:         2222,
		User:         "backups",
		Credential:   "hunter2",
		RootPath:     "/volume1/backups",
		PassiveMode:  true,
		AtomicWrites: true,
		DialTimeout:  5 * time.Second,
	}, cfg.Storage.SFTP)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"unknown backend", "storage:\n  backend: ftp\n", "storage.backend"},
		{"negative memory", "storage:\n  max_in_memory_size: -1\n", "max_in_memory_size"},
		{"bad port", "storage:\n  sftp:\n    port: 70000\n", "port out of range"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad yaml", "storage: [", "failed to parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Storage.SFTP.Host = "nas.local"

	data, err := cfg.Marshal()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "credential")

	cfg2, err := LoadConfig(writeConfig(t, string(data)))
	require.NoError(t, err)
	assert.Equal(t, cfg, cfg2)
}
