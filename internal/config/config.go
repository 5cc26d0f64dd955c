// Package config loads, defaults, overrides and validates the flow tracer
// configuration. Configuration comes from a YAML file, with environment
// variables (SSW_*) applied on top. Validation is fail-fast: an invalid
// configuration stops startup rather than degrading silently later.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"ssw-flow-tracer/pkg/errors"
	"ssw-flow-tracer/pkg/types"
)

// LoadConfig loads the configuration from a YAML file and environment variables.
func LoadConfig(configFile string) (*types.Config, error) {
	config := &types.Config{}

	if configFile != "" {
		if err := loadConfigFile(configFile, config); err != nil {
			fmt.Printf("Warning: Failed to load config file %s: %v\n", configFile, err)
		}
	}

	applyDefaults(config)
	applyEnvironmentOverrides(config)

	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func loadConfigFile(configFile string, config *types.Config) error {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// applyDefaults fills zero values with production defaults.
func applyDefaults(config *types.Config) {
	if config.App.Name == "" {
		config.App.Name = "ssw-flow-tracer"
	}
	if config.App.LogLevel == "" {
		config.App.LogLevel = "info"
	}
	if config.App.LogFormat == "" {
		config.App.LogFormat = "text"
	}

	if config.Tracker.MaxNodes <= 0 {
		config.Tracker.MaxNodes = 1_000_000
	}
	if config.Tracker.MaxDepth <= 0 {
		config.Tracker.MaxDepth = 100
	}
	if config.Tracker.MaxChildren <= 0 {
		config.Tracker.MaxChildren = 1000
	}
	if config.Tracker.InternerCapacity <= 0 {
		config.Tracker.InternerCapacity = int(2 * config.Tracker.MaxNodes)
	}
	if config.Tracker.ReclamationQueueCapacity <= 0 {
		config.Tracker.ReclamationQueueCapacity = 65536
	}
	if config.Tracker.LeakQueueCapacity <= 0 {
		config.Tracker.LeakQueueCapacity = 8192
	}

	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}

	if config.Pusher.Interval <= 0 {
		config.Pusher.Interval = 10 * time.Second
	}
	if config.Pusher.BatchSize <= 0 {
		config.Pusher.BatchSize = 512
	}

	if config.Sinks.Log.Level == "" {
		config.Sinks.Log.Level = "warn"
	}
	if config.Sinks.File.MaxSizeMB <= 0 {
		config.Sinks.File.MaxSizeMB = 64
	}
	if config.Sinks.File.MaxFiles <= 0 {
		config.Sinks.File.MaxFiles = 5
	}
	if config.Sinks.Kafka.Compression == "" {
		config.Sinks.Kafka.Compression = "snappy"
	}
	if config.Sinks.Kafka.Partitioning.Strategy == "" {
		config.Sinks.Kafka.Partitioning.Strategy = "hash"
	}

	if config.Monitoring.CheckInterval <= 0 {
		config.Monitoring.CheckInterval = 30 * time.Second
	}

	if config.HotReload.DebounceInterval <= 0 {
		config.HotReload.DebounceInterval = time.Second
	}

	if config.Tracing.ServiceName == "" {
		config.Tracing.ServiceName = "ssw-flow-tracer"
	}
	if config.Tracing.ServiceVersion == "" {
		config.Tracing.ServiceVersion = "v1.0.0"
	}
	if config.Tracing.Environment == "" {
		config.Tracing.Environment = "production"
	}
	if config.Tracing.Exporter == "" {
		config.Tracing.Exporter = "otlp"
	}
	if config.Tracing.Endpoint == "" {
		config.Tracing.Endpoint = "localhost:4318"
	}
	if config.Tracing.SampleRate <= 0 {
		config.Tracing.SampleRate = 1.0
	}
	if config.Tracing.BatchTimeout <= 0 {
		config.Tracing.BatchTimeout = 5 * time.Second
	}
	if config.Tracing.MaxBatchSize <= 0 {
		config.Tracing.MaxBatchSize = 512
	}
}

// applyEnvironmentOverrides applies SSW_* environment variables on top of
// the file configuration.
func applyEnvironmentOverrides(config *types.Config) {
	config.App.LogLevel = getEnvString("SSW_LOG_LEVEL", config.App.LogLevel)
	config.App.LogFormat = getEnvString("SSW_LOG_FORMAT", config.App.LogFormat)

	config.Tracker.MaxNodes = getEnvInt64("SSW_TRACKER_MAX_NODES", config.Tracker.MaxNodes)
	config.Tracker.MaxDepth = getEnvInt("SSW_TRACKER_MAX_DEPTH", config.Tracker.MaxDepth)
	config.Tracker.MaxChildren = getEnvInt("SSW_TRACKER_MAX_CHILDREN", config.Tracker.MaxChildren)
	config.Tracker.InternerCapacity = getEnvInt("SSW_TRACKER_INTERNER_CAPACITY", config.Tracker.InternerCapacity)
	config.Tracker.FlowPoolEnabled = getEnvBool("SSW_TRACKER_FLOW_POOL", config.Tracker.FlowPoolEnabled)

	config.Server.Enabled = getEnvBool("SSW_SERVER_ENABLED", config.Server.Enabled)
	config.Server.Host = getEnvString("SSW_SERVER_HOST", config.Server.Host)
	config.Server.Port = getEnvInt("SSW_SERVER_PORT", config.Server.Port)

	config.Pusher.Interval = getEnvDuration("SSW_PUSHER_INTERVAL", config.Pusher.Interval)

	config.Sinks.Log.Enabled = getEnvBool("SSW_SINK_LOG_ENABLED", config.Sinks.Log.Enabled)
	config.Sinks.File.Enabled = getEnvBool("SSW_SINK_FILE_ENABLED", config.Sinks.File.Enabled)
	config.Sinks.File.Path = getEnvString("SSW_SINK_FILE_PATH", config.Sinks.File.Path)
	config.Sinks.Kafka.Enabled = getEnvBool("SSW_SINK_KAFKA_ENABLED", config.Sinks.Kafka.Enabled)
	if brokers := os.Getenv("SSW_SINK_KAFKA_BROKERS"); brokers != "" {
		config.Sinks.Kafka.Brokers = strings.Split(brokers, ",")
	}
	config.Sinks.Kafka.Topic = getEnvString("SSW_SINK_KAFKA_TOPIC", config.Sinks.Kafka.Topic)
	config.Sinks.Kafka.Auth.Username = getEnvString("SSW_SINK_KAFKA_USERNAME", config.Sinks.Kafka.Auth.Username)
	config.Sinks.Kafka.Auth.Password = getEnvString("SSW_SINK_KAFKA_PASSWORD", config.Sinks.Kafka.Auth.Password)

	config.Monitoring.Enabled = getEnvBool("SSW_MONITORING_ENABLED", config.Monitoring.Enabled)
	config.HotReload.Enabled = getEnvBool("SSW_HOT_RELOAD_ENABLED", config.HotReload.Enabled)
	config.Tracing.Enabled = getEnvBool("SSW_TRACING_ENABLED", config.Tracing.Enabled)
	config.Tracing.Endpoint = getEnvString("SSW_TRACING_ENDPOINT", config.Tracing.Endpoint)
}

// ValidateConfig validates the whole configuration before startup.
func ValidateConfig(config *types.Config) error {
	if _, err := parseLogLevel(config.App.LogLevel); err != nil {
		return errors.ConfigError("validate", fmt.Sprintf("invalid log level %q", config.App.LogLevel))
	}
	if config.App.LogFormat != "text" && config.App.LogFormat != "json" {
		return errors.ConfigError("validate", fmt.Sprintf("invalid log format %q (must be text or json)", config.App.LogFormat))
	}

	if config.Tracker.MaxNodes < 1 {
		return errors.ConfigError("validate", "tracker.max_nodes must be positive")
	}
	if config.Tracker.MaxDepth < 1 || config.Tracker.MaxDepth > 127 {
		return errors.ConfigError("validate", "tracker.max_depth must be in 1..127")
	}
	if config.Tracker.MaxChildren < 1 {
		return errors.ConfigError("validate", "tracker.max_children must be positive")
	}
	if int64(config.Tracker.InternerCapacity) < config.Tracker.MaxNodes {
		return errors.ConfigError("validate", "tracker.interner_capacity must be at least tracker.max_nodes")
	}

	if config.Server.Enabled {
		if config.Server.Port < 1 || config.Server.Port > 65535 {
			return errors.ConfigError("validate", fmt.Sprintf("invalid server port %d", config.Server.Port))
		}
	}

	if config.Sinks.File.Enabled && config.Sinks.File.Path == "" {
		return errors.ConfigError("validate", "sinks.file.path is required when the file sink is enabled")
	}
	switch strings.ToLower(config.Sinks.File.Compression) {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return errors.ConfigError("validate", fmt.Sprintf("unsupported file sink compression %q", config.Sinks.File.Compression))
	}

	if config.Sinks.Kafka.Enabled {
		if len(config.Sinks.Kafka.Brokers) == 0 {
			return errors.ConfigError("validate", "sinks.kafka.brokers is required when the kafka sink is enabled")
		}
		if config.Sinks.Kafka.Topic == "" {
			return errors.ConfigError("validate", "sinks.kafka.topic is required when the kafka sink is enabled")
		}
		switch strings.ToUpper(config.Sinks.Kafka.Auth.Mechanism) {
		case "", "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			return errors.ConfigError("validate", fmt.Sprintf("unsupported kafka auth mechanism %q", config.Sinks.Kafka.Auth.Mechanism))
		}
	}

	if config.Tracing.Enabled {
		if config.Tracing.Exporter != "jaeger" && config.Tracing.Exporter != "otlp" {
			return errors.ConfigError("validate", fmt.Sprintf("unsupported trace exporter %q", config.Tracing.Exporter))
		}
		if config.Tracing.SampleRate < 0 || config.Tracing.SampleRate > 1 {
			return errors.ConfigError("validate", "tracing.sample_rate must be in 0..1")
		}
	}

	return nil
}

func parseLogLevel(level string) (string, error) {
	switch strings.ToLower(level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
		return strings.ToLower(level), nil
	default:
		return "", fmt.Errorf("unknown level %q", level)
	}
}

func getEnvString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
