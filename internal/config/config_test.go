package config

import (
	"bytes"
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
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".factserp", "factserp.db"), cfg.DBPath)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 1, cfg.Ingest.Workers)
	assert.Equal(t, 3, cfg.Ingest.Fetchable)
	assert.Equal(t, 20, cfg.Server.RateLimit.Burst)

	require.Len(t, cfg.Datasets, 3)
	assert.Equal(t, "yago", cfg.Datasets[0].Name)
	assert.True(t, cfg.Datasets[0].CamelCase)
	assert.True(t, cfg.Datasets[2].Benchmark)
}

func TestLoad_FileAndEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := writeConfig(t, `
db_path: /tmp/x.db
timezone: UTC
ingest:
  workers: 4
server:
  addr: 127.0.0.1:9000
  read_timeout: 2s
datasets:
  - name: yago
    dir: YAGO
    prefixed: true
    camel_case: true
`)
	t.Setenv("FACTSERP_SERVER_ADDR", ":7000")
	t.Setenv("FACTSERP_LOG_FORMAT", "json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, 4, cfg.Ingest.Workers)
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "json", cfg.Log.Format)

	fams := cfg.Families()
	require.Len(t, fams, 1)
	assert.Equal(t, "kg.json", fams[0].ExportFile)
	assert.True(t, fams[0].Prefixed)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name string
		body string
	}{
		{"bad log format", "log:\n  format: xml\n"},
		{"zero workers", "ingest:\n  workers: 0\n"},
		{"bad timezone", "timezone: Nowhere/Land\n"},
		{"dataset without dir", "datasets:\n  - name: x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefaultYAML(t *testing.T) {
	data, err := DefaultYAML()
	require.NoError(t, err)

	assert.Contains(t, string(data), "db_path:")
	assert.Contains(t, string(data), "fetchable_questions: 3")
	assert.Contains(t, string(data), "name: factbench")
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"k":"v"`)
}
