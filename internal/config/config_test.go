package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ssw-flow-tracer/pkg/types"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.App.Name != "ssw-flow-tracer" {
		t.Errorf("Expected default app name, got %q", cfg.App.Name)
	}
	if cfg.App.LogLevel != "info" || cfg.App.LogFormat != "text" {
		t.Errorf("Unexpected logging defaults: %q / %q", cfg.App.LogLevel, cfg.App.LogFormat)
	}

	if cfg.Tracker.MaxNodes != 1_000_000 {
		t.Errorf("Expected default max_nodes 1000000, got %d", cfg.Tracker.MaxNodes)
	}
	if cfg.Tracker.MaxDepth != 100 {
		t.Errorf("Expected default max_depth 100, got %d", cfg.Tracker.MaxDepth)
	}
	if cfg.Tracker.MaxChildren != 1000 {
		t.Errorf("Expected default max_children 1000, got %d", cfg.Tracker.MaxChildren)
	}
	if cfg.Tracker.InternerCapacity != 2_000_000 {
		t.Errorf("Expected interner capacity 2x max_nodes, got %d", cfg.Tracker.InternerCapacity)
	}
	if cfg.Tracker.LeakQueueCapacity != 8192 {
		t.Errorf("Expected default leak queue capacity 8192, got %d", cfg.Tracker.LeakQueueCapacity)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Pusher.Interval != 10*time.Second {
		t.Errorf("Expected default push interval 10s, got %v", cfg.Pusher.Interval)
	}
	if cfg.Sinks.Kafka.Compression != "snappy" {
		t.Errorf("Expected default kafka compression snappy, got %q", cfg.Sinks.Kafka.Compression)
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	content := `
app:
  log_level: debug
  log_format: json
tracker:
  max_nodes: 5000
  max_depth: 20
server:
  enabled: true
  port: 9191
pusher:
  interval: 3s
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.App.LogLevel != "debug" || cfg.App.LogFormat != "json" {
		t.Errorf("File values not applied: %q / %q", cfg.App.LogLevel, cfg.App.LogFormat)
	}
	if cfg.Tracker.MaxNodes != 5000 || cfg.Tracker.MaxDepth != 20 {
		t.Errorf("Tracker values not applied: %d / %d", cfg.Tracker.MaxNodes, cfg.Tracker.MaxDepth)
	}
	if !cfg.Server.Enabled || cfg.Server.Port != 9191 {
		t.Errorf("Server values not applied: %+v", cfg.Server)
	}
	if cfg.Pusher.Interval != 3*time.Second {
		t.Errorf("Pusher interval not applied: %v", cfg.Pusher.Interval)
	}
	// Unset values still get defaults.
	if cfg.Tracker.InternerCapacity != 10_000 {
		t.Errorf("Expected interner capacity derived from max_nodes, got %d", cfg.Tracker.InternerCapacity)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SSW_LOG_LEVEL", "error")
	t.Setenv("SSW_TRACKER_MAX_NODES", "777")
	t.Setenv("SSW_TRACKER_MAX_DEPTH", "12")
	t.Setenv("SSW_SERVER_ENABLED", "true")
	t.Setenv("SSW_SERVER_PORT", "7070")
	t.Setenv("SSW_PUSHER_INTERVAL", "90s")
	t.Setenv("SSW_SINK_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.App.LogLevel != "error" {
		t.Errorf("Expected env log level, got %q", cfg.App.LogLevel)
	}
	if cfg.Tracker.MaxNodes != 777 || cfg.Tracker.MaxDepth != 12 {
		t.Errorf("Expected env tracker limits, got %d / %d", cfg.Tracker.MaxNodes, cfg.Tracker.MaxDepth)
	}
	if !cfg.Server.Enabled || cfg.Server.Port != 7070 {
		t.Errorf("Expected env server settings, got %+v", cfg.Server)
	}
	if cfg.Pusher.Interval != 90*time.Second {
		t.Errorf("Expected env pusher interval, got %v", cfg.Pusher.Interval)
	}
	if len(cfg.Sinks.Kafka.Brokers) != 2 || cfg.Sinks.Kafka.Brokers[0] != "k1:9092" {
		t.Errorf("Expected env brokers split, got %v", cfg.Sinks.Kafka.Brokers)
	}
}

func TestValidateConfigRejectsBadValues(t *testing.T) {
	base := func() *types.Config {
		cfg := &types.Config{}
		applyDefaults(cfg)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*types.Config)
	}{
		{"bad log level", func(c *types.Config) { c.App.LogLevel = "loud" }},
		{"bad log format", func(c *types.Config) { c.App.LogFormat = "xml" }},
		{"zero max nodes", func(c *types.Config) { c.Tracker.MaxNodes = 0 }},
		{"depth beyond packing", func(c *types.Config) { c.Tracker.MaxDepth = 128 }},
		{"zero max children", func(c *types.Config) { c.Tracker.MaxChildren = 0 }},
		{"undersized interner", func(c *types.Config) { c.Tracker.InternerCapacity = 10; c.Tracker.MaxNodes = 100 }},
		{"bad server port", func(c *types.Config) { c.Server.Enabled = true; c.Server.Port = 99999 }},
		{"file sink without path", func(c *types.Config) { c.Sinks.File.Enabled = true; c.Sinks.File.Path = "" }},
		{"kafka without brokers", func(c *types.Config) { c.Sinks.Kafka.Enabled = true; c.Sinks.Kafka.Topic = "t" }},
		{"kafka without topic", func(c *types.Config) { c.Sinks.Kafka.Enabled = true; c.Sinks.Kafka.Brokers = []string{"k:9092"} }},
		{"kafka bad mechanism", func(c *types.Config) {
			c.Sinks.Kafka.Enabled = true
			c.Sinks.Kafka.Brokers = []string{"k:9092"}
			c.Sinks.Kafka.Topic = "t"
			c.Sinks.Kafka.Auth.Mechanism = "NTLM"
		}},
		{"bad file compression", func(c *types.Config) { c.Sinks.File.Compression = "brotli" }},
		{"bad trace exporter", func(c *types.Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "zipkin" }},
		{"bad sample rate", func(c *types.Config) { c.Tracing.Enabled = true; c.Tracing.SampleRate = 2.0 }},
	}

	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		if err := ValidateConfig(cfg); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestValidateConfigAcceptsDefaults(t *testing.T) {
	cfg := &types.Config{}
	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		t.Errorf("Expected default config to validate, got %v", err)
	}
}

func TestInvalidYAMLFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{{not yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Expected defaults when the file cannot be parsed, got %v", err)
	}
	if cfg.Tracker.MaxNodes != 1_000_000 {
		t.Errorf("Expected defaults, got max_nodes=%d", cfg.Tracker.MaxNodes)
	}
}
