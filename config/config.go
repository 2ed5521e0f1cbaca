// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	mqtls "github.com/absmach/mqterm/pkg/tls"
	"gopkg.in/yaml.v3"
)

// Wire-level constants shared by every component that talks to the broker.
const (
	// QoS is the delivery level used for subscribe, will and publish (exactly once).
	QoS byte = 2

	DefaultBrokerURL   = "tcp://broker.hivemq.com:1883"
	DefaultWillPayload = "Server has lost connection"
)

// Config holds all configuration for the command agent.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Agent     AgentConfig     `yaml:"agent"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Exec      ExecConfig      `yaml:"exec"`
	Publish   PublishConfig   `yaml:"publish"`
	Log       LogConfig       `yaml:"log"`
	Health    HealthConfig    `yaml:"health"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	History   HistoryConfig   `yaml:"history"`
}

// BrokerConfig holds broker connection settings.
type BrokerConfig struct {
	URL            string        `yaml:"url"`
	ClientID       string        `yaml:"client_id"` // empty means a random UUIDv4
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	AckTimeout     time.Duration `yaml:"ack_timeout"`
	TLS            mqtls.Config  `yaml:"tls"`
}

// AgentConfig holds session loop settings.
type AgentConfig struct {
	Topic       string `yaml:"topic"`
	WillPayload string `yaml:"will_payload"`
	QueueSize   int    `yaml:"queue_size"`

	// RejectMalformed makes a command whose text is not valid UTF-8 terminate
	// the agent. When false invalid sequences are replaced with U+FFFD.
	RejectMalformed bool `yaml:"reject_malformed"`
}

// ReconnectConfig holds the bounded reconnection policy.
type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	Multiplier  float64       `yaml:"multiplier"` // 1 keeps the delay fixed
	MaxDelay    time.Duration `yaml:"max_delay"`  // 0 means no cap
}

// ExecConfig holds command execution settings.
type ExecConfig struct {
	Timeout   time.Duration `yaml:"timeout"`    // 0 disables the timeout
	RateLimit float64       `yaml:"rate_limit"` // commands per second, 0 means unlimited
	Burst     int           `yaml:"burst"`

	// StrictOutput makes command output that is not valid UTF-8 terminate
	// the agent. When false invalid sequences are replaced with U+FFFD.
	StrictOutput bool `yaml:"strict_output"`
}

// PublishConfig holds output publishing settings.
type PublishConfig struct {
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"` // 0 disables tripping
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// HealthConfig holds the health check server configuration.
type HealthConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled         bool              `yaml:"enabled"`
	Endpoint        string            `yaml:"endpoint"` // OTLP gRPC endpoint
	Insecure        bool              `yaml:"insecure"` // plaintext gRPC to the collector
	Headers         map[string]string `yaml:"headers"`
	ExportInterval  time.Duration     `yaml:"export_interval"`
	ServiceName     string            `yaml:"service_name"`
	ServiceVersion  string            `yaml:"service_version"`
	TracesEnabled   bool              `yaml:"traces_enabled"`
	MetricsEnabled  bool              `yaml:"metrics_enabled"`
	TraceSampleRate float64           `yaml:"trace_sample_rate"` // 0.0 to 1.0
}

// HistoryConfig holds the execution journal configuration.
type HistoryConfig struct {
	Type      string        `yaml:"type"`     // memory, badger
	Capacity  int           `yaml:"capacity"` // memory only
	Dir       string        `yaml:"dir"`      // badger only
	Retention time.Duration `yaml:"retention"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:            DefaultBrokerURL,
			KeepAlive:      20 * time.Second,
			ConnectTimeout: 30 * time.Second,
			AckTimeout:     30 * time.Second,
		},
		Agent: AgentConfig{
			WillPayload: DefaultWillPayload,
			QueueSize:   256,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: 12,
			Delay:       5 * time.Second,
			Multiplier:  1,
		},
		Exec: ExecConfig{
			Burst:        1,
			StrictOutput: true,
		},
		Publish: PublishConfig{
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 0,
				ResetTimeout:     30 * time.Second,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Health: HealthConfig{
			Enabled:         false,
			Addr:            "localhost:8081",
			ShutdownTimeout: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:         false,
			Endpoint:        "localhost:4317",
			Insecure:        true,
			ExportInterval:  10 * time.Second,
			ServiceName:     "mqterm-agent",
			ServiceVersion:  "0.1.0",
			TracesEnabled:   false,
			MetricsEnabled:  true,
			TraceSampleRate: 0.1,
		},
		History: HistoryConfig{
			Type:      "memory",
			Capacity:  100,
			Dir:       "/tmp/mqterm/history",
			Retention: 7 * 24 * time.Hour,
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
// The result is not validated: command-line overrides are applied afterwards.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url cannot be empty")
	}
	if c.Broker.KeepAlive < 0 {
		return fmt.Errorf("broker.keep_alive cannot be negative")
	}
	if c.Broker.ConnectTimeout <= 0 {
		return fmt.Errorf("broker.connect_timeout must be positive")
	}
	if c.Broker.AckTimeout <= 0 {
		return fmt.Errorf("broker.ack_timeout must be positive")
	}

	if (c.Broker.TLS.CertFile == "") != (c.Broker.TLS.KeyFile == "") {
		return fmt.Errorf("broker.tls.cert_file and broker.tls.key_file must be set together")
	}

	if c.Agent.Topic == "" {
		return fmt.Errorf("agent.topic is required")
	}
	if c.Agent.QueueSize <= 0 {
		return fmt.Errorf("agent.queue_size must be positive")
	}

	if c.Reconnect.MaxAttempts < 1 {
		return fmt.Errorf("reconnect.max_attempts must be at least 1")
	}
	if c.Reconnect.Delay < 0 {
		return fmt.Errorf("reconnect.delay cannot be negative")
	}
	if c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier must be at least 1")
	}
	if c.Reconnect.MaxDelay < 0 {
		return fmt.Errorf("reconnect.max_delay cannot be negative")
	}

	if c.Exec.Timeout < 0 {
		return fmt.Errorf("exec.timeout cannot be negative")
	}
	if c.Exec.RateLimit < 0 {
		return fmt.Errorf("exec.rate_limit cannot be negative")
	}
	if c.Exec.RateLimit > 0 && c.Exec.Burst < 1 {
		return fmt.Errorf("exec.burst must be at least 1 when rate limiting is enabled")
	}

	if c.Publish.CircuitBreaker.FailureThreshold < 0 {
		return fmt.Errorf("publish.circuit_breaker.failure_threshold cannot be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr cannot be empty when health server is enabled")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint cannot be empty when telemetry is enabled")
		}
		if c.Telemetry.MetricsEnabled && c.Telemetry.ExportInterval <= 0 {
			return fmt.Errorf("telemetry.export_interval must be positive when metrics are enabled")
		}
		if c.Telemetry.TraceSampleRate < 0 || c.Telemetry.TraceSampleRate > 1 {
			return fmt.Errorf("telemetry.trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	switch c.History.Type {
	case "memory":
		if c.History.Capacity < 1 {
			return fmt.Errorf("history.capacity must be at least 1")
		}
	case "badger":
		if c.History.Dir == "" {
			return fmt.Errorf("history.dir cannot be empty for badger history")
		}
	case "none":
	default:
		return fmt.Errorf("history.type must be one of: memory, badger, none")
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
