package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_addr: ":9090"
log:
  level: debug
bus:
  broker: tcp://localhost:1883
  client_id: lcp-gateway
  qos: 1
stream:
  dial_timeout: 3s
polling:
  fetch_timeout: 2s
retry:
  max_attempts: 5
  base_delay: 100ms
storage:
  driver: postgres
  dsn: postgres://lcp@localhost/lcp
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", config.Server.ListenAddr)
	assert.Equal(t, "debug", config.Log.Level)
	assert.Equal(t, "tcp://localhost:1883", config.Bus.Broker)
	assert.Equal(t, 1, config.Bus.QOS)
	assert.Equal(t, 3*time.Second, config.Stream.DialTimeout)
	assert.Equal(t, 2*time.Second, config.Polling.FetchTimeout)
	assert.Equal(t, 5, config.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, config.Retry.BaseDelay)
	assert.Equal(t, "postgres", config.Storage.Driver)
}

func TestLoadConfig_DefaultsFillUnsetFields(t *testing.T) {
	path := writeConfig(t, `
bus:
  broker: tcp://localhost:1883
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":8080", config.Server.ListenAddr)
	assert.Equal(t, "info", config.Log.Level)
	assert.Equal(t, 10*time.Second, config.Stream.DialTimeout)
	assert.Equal(t, 5*time.Second, config.Stream.WriteTimeout)
	assert.Equal(t, 10*time.Second, config.Polling.FetchTimeout)
	assert.Equal(t, 3, config.Retry.MaxAttempts)
	assert.Equal(t, "memory", config.Storage.Driver)
	assert.Equal(t, 1000, config.Storage.MaxPointsPerDevice)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a mapping")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
