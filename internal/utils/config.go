package utils

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type EngineConfig struct {
	Server    ServerYAMLConfig    `yaml:"server"`
	Gateway   GatewayYAMLConfig   `yaml:"gateway"`
	Baseline  BaselineYAMLConfig  `yaml:"baseline"`
	Simulator SimulatorYAMLConfig `yaml:"simulator"`
	Streams   StreamsYAMLConfig   `yaml:"streams"`
	Storage   StorageYAMLConfig   `yaml:"storage"`
	Logging   LoggingYAMLConfig   `yaml:"logging"`
}

type ServerYAMLConfig struct {
	Port        string `yaml:"port"`
	MetricsPort string `yaml:"metrics_port"`
}

type GatewayYAMLConfig struct {
	URL               string `yaml:"url"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	HealthPollSeconds int    `yaml:"health_poll_seconds"`
}

type BaselineYAMLConfig struct {
	WindowSize int     `yaml:"window_size"`
	Warmup     int     `yaml:"warmup"`
	SigmaK     float64 `yaml:"sigma_k"`
}

type SimulatorYAMLConfig struct {
	NormalIntervalMs int    `yaml:"normal_interval_ms"`
	AttackIntervalMs int    `yaml:"attack_interval_ms"`
	DestIP           string `yaml:"dest_ip"`
}

type StreamsYAMLConfig struct {
	IdleTTLSeconds       int `yaml:"idle_ttl_seconds"`
	AlertCooldownSeconds int `yaml:"alert_cooldown_seconds"`
}

type StorageYAMLConfig struct {
	MemoryCapacity int    `yaml:"memory_capacity"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        int    `yaml:"redis_db"`
	RetentionHours int    `yaml:"retention_hours"`
}

type LoggingYAMLConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadEngineConfig reads and validates a YAML config file. A missing file
// is an error; callers wanting a zero-config start use GetDefaultEngineConfig.
func LoadEngineConfig(filename string) (*EngineConfig, error) {
	if filename == "" {
		filename = "configs/tracel.yaml"
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
	}

	var config EngineConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file %s: %v", filename, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}

	return &config, nil
}

// Validate fills defaults and clamps out-of-range values in place.
func (c *EngineConfig) Validate() error {
	if c.Server.Port == "" {
		c.Server.Port = "5001"
	}
	if c.Server.MetricsPort == "" {
		c.Server.MetricsPort = "9090"
	}

	if c.Gateway.URL == "" {
		c.Gateway.URL = "http://localhost:8000"
	}
	if c.Gateway.TimeoutSeconds <= 0 {
		c.Gateway.TimeoutSeconds = 2
	}
	if c.Gateway.HealthPollSeconds <= 0 {
		c.Gateway.HealthPollSeconds = 5
	}

	if c.Baseline.WindowSize <= 0 {
		c.Baseline.WindowSize = 1000
	}
	if c.Baseline.Warmup <= 0 {
		c.Baseline.Warmup = 20
	}
	if c.Baseline.Warmup > c.Baseline.WindowSize {
		return fmt.Errorf("baseline warmup (%d) cannot exceed window size (%d)",
			c.Baseline.Warmup, c.Baseline.WindowSize)
	}
	if c.Baseline.SigmaK <= 0 {
		c.Baseline.SigmaK = 2.0
	}

	if c.Simulator.NormalIntervalMs <= 0 {
		c.Simulator.NormalIntervalMs = 400
	}
	if c.Simulator.AttackIntervalMs <= 0 {
		c.Simulator.AttackIntervalMs = 120
	}
	if c.Simulator.DestIP == "" {
		c.Simulator.DestIP = "10.0.0.1"
	}

	if c.Streams.IdleTTLSeconds <= 0 {
		c.Streams.IdleTTLSeconds = 60
	}
	if c.Streams.AlertCooldownSeconds <= 0 {
		c.Streams.AlertCooldownSeconds = 30
	}

	if c.Storage.MemoryCapacity <= 0 {
		c.Storage.MemoryCapacity = 10000
	}
	if c.Storage.RetentionHours <= 0 {
		c.Storage.RetentionHours = 1
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "INFO"
	}

	return nil
}

// GetDefaultEngineConfig returns the config used when no file is present.
func GetDefaultEngineConfig() *EngineConfig {
	config := &EngineConfig{}
	// Validate only fails on cross-field conflicts, which the zero value
	// cannot produce.
	_ = config.Validate()
	return config
}

// IdleTTL returns the stream idle TTL as a duration.
func (c *EngineConfig) IdleTTL() time.Duration {
	return time.Duration(c.Streams.IdleTTLSeconds) * time.Second
}

// HealthPollInterval returns the gateway health poll period as a duration.
func (c *EngineConfig) HealthPollInterval() time.Duration {
	return time.Duration(c.Gateway.HealthPollSeconds) * time.Second
}
