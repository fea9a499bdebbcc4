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
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
fedlink:
  federate:
    id: 7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Federate.ID)
	assert.Equal(t, "localhost", cfg.RTI.Host)
	assert.Equal(t, 15045, cfg.RTI.Port)
	assert.Equal(t, 500, cfg.RTI.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.RetryInterval())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Metrics.Enabled)

	read, write, idle := cfg.Metrics.Timeouts()
	assert.Equal(t, 5*time.Second, read)
	assert.Equal(t, 10*time.Second, write)
	assert.Equal(t, 60*time.Second, idle)

	_, hasDuration := cfg.RunDuration()
	assert.False(t, hasDuration)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
fedlink:
  federate:
    id: 2
    duration: 30s
  rti:
    host: rti.example.com
    port: 16000
    retry_interval: 500ms
    max_retries: 10
    federates: 3
  log:
    level: debug
    format: json
  metrics:
    enabled: true
    listen: ":9100"
    read_timeout: 2s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "rti.example.com:16000", cfg.RTIAddress())
	assert.Equal(t, 500*time.Millisecond, cfg.RetryInterval())
	assert.Equal(t, 10, cfg.RTI.MaxRetries)
	assert.Equal(t, 3, cfg.RTI.Federates)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)

	d, hasDuration := cfg.RunDuration()
	require.True(t, hasDuration)
	assert.Equal(t, 30*time.Second, d)

	read, _, _ := cfg.Metrics.Timeouts()
	assert.Equal(t, 2*time.Second, read)
}

func TestLoadRejectsBadMetricsTimeout(t *testing.T) {
	path := writeConfig(t, `
fedlink:
  federate:
    id: 1
  metrics:
    read_timeout: soon
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics.read_timeout")
}

func TestLoadRejectsOutOfRangeFederateID(t *testing.T) {
	path := writeConfig(t, `
fedlink:
  federate:
    id: 70000
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "16-bit")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
fedlink:
  federate:
    id: 1
    duration: not-a-duration
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duration")
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, `
fedlink:
  federate:
    id: 1
  log:
    level: loud
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log level")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}
