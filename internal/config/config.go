// Package config loads the agent's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	RouterID string `toml:"router_id" mapstructure:"router_id"`

	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	MQTT    MQTTConfig    `toml:"mqtt" mapstructure:"mqtt"`
	API     APIConfig     `toml:"api" mapstructure:"api"`
	Host    HostConfig    `toml:"host" mapstructure:"host"`
	Store   StoreConfig   `toml:"store" mapstructure:"store"`
	Sinks   []SinkConfig  `toml:"sinks" mapstructure:"sinks"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
}

// ServerConfig describes the remote management server.
type ServerConfig struct {
	BaseURL        string        `toml:"base_url" mapstructure:"base_url"`
	Token          string        `toml:"token" mapstructure:"token"`
	PollInterval   time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	ReportAttempts int           `toml:"report_attempts" mapstructure:"report_attempts"`
	ReportInterval time.Duration `toml:"report_interval" mapstructure:"report_interval"`
	CACert         string        `toml:"ca_cert" mapstructure:"ca_cert"`
	Insecure       bool          `toml:"insecure" mapstructure:"insecure"`
}

// MQTTConfig describes the push-notification channel. An empty broker
// disables push and leaves only the polling fallback.
type MQTTConfig struct {
	Broker      string `toml:"broker" mapstructure:"broker"`
	Username    string `toml:"username" mapstructure:"username"`
	Password    string `toml:"password" mapstructure:"password"`
	TopicPrefix string `toml:"topic_prefix" mapstructure:"topic_prefix"`
}

// APIConfig describes the local operator API.
type APIConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// HostConfig locates the device's configuration substrate.
type HostConfig struct {
	ConfigDir     string `toml:"config_dir" mapstructure:"config_dir"`
	RegistryPath  string `toml:"registry_path" mapstructure:"registry_path"`
	ConfigdSocket string `toml:"configd_socket" mapstructure:"configd_socket"`
}

// StoreConfig holds the outcome store DSN. Empty disables persistence.
type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// SinkConfig describes one history sink.
type SinkConfig struct {
	Type  string `toml:"type" mapstructure:"type"` // "clickhouse" or "opensearch"
	URL   string `toml:"url" mapstructure:"url"`
	Table string `toml:"table" mapstructure:"table"` // table or index name
}

// LogConfig follows lumberjack rotation semantics.
type LogConfig struct {
	Path       string `toml:"path" mapstructure:"path"`
	Level      string `toml:"level" mapstructure:"level"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// Load reads and validates the agent configuration at path.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	fc.applyDefaults()
	if err := fc.validate(); err != nil {
		return nil, err
	}
	return &fc, nil
}

func (fc *FileConfig) applyDefaults() {
	if fc.Server.PollInterval <= 0 {
		fc.Server.PollInterval = 15 * time.Minute
	}
	if fc.Server.ReportAttempts <= 0 {
		fc.Server.ReportAttempts = 3
	}
	if fc.Server.ReportInterval <= 0 {
		fc.Server.ReportInterval = 5 * time.Second
	}
	if fc.MQTT.TopicPrefix == "" {
		fc.MQTT.TopicPrefix = "paradrop"
	}
	if fc.API.Listen == "" {
		fc.API.Listen = "127.0.0.1:8180"
	}
	if fc.API.BasePath == "" {
		fc.API.BasePath = "/api"
	}
	if fc.Host.ConfigDir == "" {
		fc.Host.ConfigDir = "/etc/config"
	}
	if fc.Host.RegistryPath == "" {
		fc.Host.RegistryPath = "/var/lib/paradrop/chutes.db"
	}
	if fc.Metrics.Listen == "" {
		fc.Metrics.Listen = "127.0.0.1:9184"
	}
	if fc.Log.Level == "" {
		fc.Log.Level = "info"
	}
}

func (fc *FileConfig) validate() error {
	if fc.RouterID == "" {
		return errors.New("router_id is required")
	}
	if fc.Server.BaseURL == "" {
		return errors.New("server.base_url is required")
	}
	for i, s := range fc.Sinks {
		switch s.Type {
		case "clickhouse", "opensearch":
		default:
			return fmt.Errorf("sinks[%d]: unknown type %q", i, s.Type)
		}
		if s.URL == "" {
			return fmt.Errorf("sinks[%d]: url is required", i)
		}
	}
	return nil
}
