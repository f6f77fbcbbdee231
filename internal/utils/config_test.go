package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFillsDefaults(t *testing.T) {
	config := &EngineConfig{}
	require.NoError(t, config.Validate())

	assert.Equal(t, "5001", config.Server.Port)
	assert.Equal(t, "http://localhost:8000", config.Gateway.URL)
	assert.Equal(t, 1000, config.Baseline.WindowSize)
	assert.Equal(t, 20, config.Baseline.Warmup)
	assert.Equal(t, 2.0, config.Baseline.SigmaK)
	assert.Equal(t, 400, config.Simulator.NormalIntervalMs)
	assert.Equal(t, 60, config.Streams.IdleTTLSeconds)
	assert.Equal(t, 10000, config.Storage.MemoryCapacity)
	assert.Equal(t, "INFO", config.Logging.Level)
}

func TestValidateRejectsWarmupAboveWindow(t *testing.T) {
	config := &EngineConfig{}
	config.Baseline.WindowSize = 10
	config.Baseline.Warmup = 50
	assert.Error(t, config.Validate())
}

func TestLoadEngineConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracel.yaml")
	content := `
server:
  port: "6100"
gateway:
  url: http://gateway:8000
baseline:
  window_size: 500
  warmup: 10
streams:
  idle_ttl_seconds: 30
logging:
  level: DEBUG
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := LoadEngineConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "6100", config.Server.Port)
	assert.Equal(t, "http://gateway:8000", config.Gateway.URL)
	assert.Equal(t, 500, config.Baseline.WindowSize)
	assert.Equal(t, 10, config.Baseline.Warmup)
	// Unset fields still get defaults.
	assert.Equal(t, "9090", config.Server.MetricsPort)
	assert.Equal(t, 2.0, config.Baseline.SigmaK)

	_, err = LoadEngineConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewLoggerLevels(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, NewLogger("DEBUG").GetLevel())
	assert.Equal(t, logrus.DebugLevel, NewLogger("debug").GetLevel())
	assert.Equal(t, logrus.InfoLevel, NewLogger("").GetLevel())
	assert.Equal(t, logrus.ErrorLevel, NewLogger("ERROR").GetLevel())
}
