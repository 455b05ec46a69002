// Package config loads BetterMQ's server configuration from a YAML file
// and applies BETTERMQ_* environment variable overrides.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`   // Default: true
	Addr      string `yaml:"addr"`      // :9464
	Namespace string `yaml:"namespace"` // bettermq
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`      // Default: false
	Exporter    string  `yaml:"exporter"`     // otlp-http (alias otlp), stdout
	Endpoint    string  `yaml:"endpoint"`     // localhost:4318
	ServiceName string  `yaml:"service_name"` // bettermq
	SampleRate  float64 `yaml:"sample_rate"`  // 1.0
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ObservabilityConfig groups the ambient observability knobs.
type ObservabilityConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// BrokerConfig holds the multi-topic broker's own settings.
type BrokerConfig struct {
	DataDir       string        `yaml:"data_dir"`
	Topics        []string      `yaml:"topics"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// ServerConfig holds the RPC listener settings.
type ServerConfig struct {
	NodeID string `yaml:"node_id"`
	Listen string `yaml:"listen"`
}

// Config is the central configuration struct embedding all component configs.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Broker        BrokerConfig        `yaml:"broker"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			NodeID: "",
			Listen: "0.0.0.0:7840",
		},
		Broker: BrokerConfig{
			DataDir:       "./data",
			Topics:        nil,
			SweepInterval: 5 * time.Second,
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "bettermq",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Addr:      ":9464",
				Namespace: "bettermq",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file, starting from
// DefaultConfig so unset fields keep their default values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv applies BETTERMQ_* environment variable overrides to cfg.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("BETTERMQ_NODE_ID"); v != "" {
		cfg.Server.NodeID = v
	}
	if v := os.Getenv("BETTERMQ_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
	if v := os.Getenv("BETTERMQ_DATA_DIR"); v != "" {
		cfg.Broker.DataDir = v
	}
	if v := os.Getenv("BETTERMQ_TOPICS"); v != "" {
		cfg.Broker.Topics = strings.Split(v, ",")
	}
	if v := os.Getenv("BETTERMQ_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Broker.SweepInterval = d
		}
	}

	if v := os.Getenv("BETTERMQ_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("BETTERMQ_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}

	if v := os.Getenv("BETTERMQ_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("BETTERMQ_METRICS_ADDR"); v != "" {
		cfg.Observability.Metrics.Addr = v
	}

	if v := os.Getenv("BETTERMQ_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("BETTERMQ_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("BETTERMQ_TRACING_EXPORTER"); v != "" {
		cfg.Observability.Tracing.Exporter = v
	}
	if v := os.Getenv("BETTERMQ_TRACING_SERVICE_NAME"); v != "" {
		cfg.Observability.Tracing.ServiceName = v
	}
	if v := os.Getenv("BETTERMQ_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Observability.Tracing.SampleRate = f
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
