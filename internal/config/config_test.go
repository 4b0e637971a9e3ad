package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paradrop.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
router_id = "r1"

[server]
base_url = "https://paradrop.example.org"
`)
	fc, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Server.PollInterval != 15*time.Minute {
		t.Fatalf("poll interval default: %v", fc.Server.PollInterval)
	}
	if fc.Server.ReportAttempts != 3 || fc.Server.ReportInterval != 5*time.Second {
		t.Fatalf("report retry defaults: %d %v", fc.Server.ReportAttempts, fc.Server.ReportInterval)
	}
	if fc.MQTT.TopicPrefix != "paradrop" || fc.API.BasePath != "/api" {
		t.Fatalf("defaults: %+v", fc)
	}
	if fc.Host.ConfigDir != "/etc/config" {
		t.Fatalf("config dir default: %q", fc.Host.ConfigDir)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
router_id = "r1"

[server]
base_url = "https://paradrop.example.org"
poll_interval = "5m"

[mqtt]
broker = "tcp://broker:1883"
topic_prefix = "pd"

[host]
config_dir = "/tmp/config"

[store]
dsn = "sqlite:///tmp/agent.db"

[[sinks]]
type = "clickhouse"
url = "http://ch:8123"
table = "updates"

[[sinks]]
type = "opensearch"
url = "http://os:9200"
table = "paradrop-updates"

[log]
path = "/var/log/paradrop/agent.log"
level = "debug"

[metrics]
enabled = true
`)
	fc, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Server.PollInterval != 5*time.Minute {
		t.Fatalf("poll interval: %v", fc.Server.PollInterval)
	}
	if fc.MQTT.Broker != "tcp://broker:1883" || fc.MQTT.TopicPrefix != "pd" {
		t.Fatalf("mqtt: %+v", fc.MQTT)
	}
	if len(fc.Sinks) != 2 || fc.Sinks[0].Type != "clickhouse" || fc.Sinks[1].Table != "paradrop-updates" {
		t.Fatalf("sinks: %+v", fc.Sinks)
	}
	if !fc.Metrics.Enabled || fc.Metrics.Listen != "127.0.0.1:9184" {
		t.Fatalf("metrics: %+v", fc.Metrics)
	}
}

func TestLoadRejectsMissingRouterID(t *testing.T) {
	path := writeConfig(t, `
[server]
base_url = "https://paradrop.example.org"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "router_id") {
		t.Fatalf("expected router_id error, got %v", err)
	}
}

func TestLoadRejectsUnknownSinkType(t *testing.T) {
	path := writeConfig(t, `
router_id = "r1"

[server]
base_url = "https://paradrop.example.org"

[[sinks]]
type = "kafka"
url = "http://x"
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "unknown type") {
		t.Fatalf("expected sink type error, got %v", err)
	}
}
