package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gojoheap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
storage:
  db_path: /var/lib/gojoheap/students.db
  page_size: 1024
  max_dir_entries: 5
logger:
  level: debug
  format: json
telemetry:
  enabled: true
  prometheus_addr: ":9464"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/var/lib/gojoheap/students.db", cfg.Storage.DBPath)
	require.Equal(t, 1024, cfg.Storage.PageSize)
	require.Equal(t, 5, cfg.Storage.MaxDirEntries)
	require.Equal(t, Default().Storage.PoolSize, cfg.Storage.PoolSize, "missing keys keep defaults")
	require.Equal(t, "debug", cfg.Logger.Level)
	require.Equal(t, "json", cfg.Logger.Format)
	require.Equal(t, "stderr", cfg.Logger.OutputFile)
	require.True(t, cfg.Telemetry.Enabled)
	require.Equal(t, ":9464", cfg.Telemetry.PrometheusAddr)
	require.Equal(t, "gojoheap", cfg.Telemetry.ServiceName)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeConfig(t, "storage: [not, a, map]"))
	require.ErrorContains(t, err, "parsing config")

	_, err = Load(writeConfig(t, `
storage:
  page_size: 100
  pool_size: 0
  max_dir_entries: -3
`))
	require.ErrorContains(t, err, "storage.page_size")
	require.ErrorContains(t, err, "storage.pool_size")
	require.ErrorContains(t, err, "storage.max_dir_entries")
}
