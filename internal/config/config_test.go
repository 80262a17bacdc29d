package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, BackendMemory, cfg.Storage.QueueBackend)
	assert.Equal(t, BackendMemory, cfg.Storage.BarBackend)
	assert.Equal(t, 1, cfg.Worker.MaxConcurrent)
	assert.Equal(t, 15*time.Second, cfg.Worker.HeartbeatInterval)
	assert.Equal(t, 5*time.Minute, cfg.StaleTimeout())
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
storage:
  queue_backend: sqlite
  sqlite_path: /tmp/jobs.db
worker:
  max_concurrent: 4
  poll_interval: 500ms
  heartbeat_interval: 10s
queue:
  stale_minutes: 2
journal:
  dir: /data/journals
`)
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("WORKER_ID", "worker-a")
	t.Setenv("WORKER_MAX_CONCURRENT", "8")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://dash.example.com, http://localhost:3000")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level, "environment wins over the file")
	assert.Equal(t, BackendSQLite, cfg.Storage.QueueBackend)
	assert.Equal(t, "/tmp/jobs.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "worker-a", cfg.Worker.ID)
	assert.Equal(t, 8, cfg.Worker.MaxConcurrent)
	assert.Equal(t, 500*time.Millisecond, cfg.Worker.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.StaleTimeout())
	assert.Equal(t, "/data/journals", cfg.Journal.Dir)
	assert.Equal(t, []string{"https://dash.example.com", "http://localhost:3000"}, cfg.Server.AllowedOrigins)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown queue backend", "storage:\n  queue_backend: redis\n"},
		{"postgres without dsn", "storage:\n  queue_backend: postgres\n"},
		{"clickhouse without dsn", "storage:\n  bar_backend: clickhouse\n"},
		{"heartbeat too slow", "worker:\n  heartbeat_interval: 3m\nqueue:\n  stale_minutes: 5\n"},
		{"bad yaml", "log: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_BadEnvNumber(t *testing.T) {
	t.Setenv("WORKER_MAX_CONCURRENT", "many")
	_, err := Load("")
	assert.Error(t, err)
}
