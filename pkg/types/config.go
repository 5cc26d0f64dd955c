// Package types - Configuration structures for all system components
package types

import "time"

// Config is the root configuration for the flow tracer, loaded from YAML with
// environment-variable overrides applied on top.
type Config struct {
	App        AppConfig        `yaml:"app"`
	Tracker    TrackerConfig    `yaml:"tracker"`
	Server     ServerConfig     `yaml:"server"`
	Pusher     PusherConfig     `yaml:"pusher"`
	Sinks      SinksConfig      `yaml:"sinks"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	HotReload  HotReloadConfig  `yaml:"hot_reload"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`  // trace, debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
}

// TrackerConfig bounds the tracking engine. All values are snapshotted at
// initialization; there is no dynamic reconfiguration on the hot path.
type TrackerConfig struct {
	// MaxNodes caps the total number of trie nodes (roots included).
	// The counter is approximate: it may slightly exceed the cap under
	// concurrency and is used as a soft bound. Default 1_000_000.
	MaxNodes int64 `yaml:"max_nodes"`

	// MaxDepth caps the number of non-root edges a single flow can imprint.
	// Observations past the cap keep the flow on its current node. Default 100.
	MaxDepth int `yaml:"max_depth"`

	// MaxChildren caps per-node fan-out. Once a node has this many children,
	// new distinct children are silently dropped. Default 1000.
	MaxChildren int `yaml:"max_children"`

	// InternerCapacity sizes the string-interner table. Default 2*MaxNodes.
	InternerCapacity int `yaml:"interner_capacity"`

	// FlowPoolEnabled recycles flow-state records through a pool.
	FlowPoolEnabled bool `yaml:"flow_pool_enabled"`

	// ReclamationQueueCapacity bounds the queue fed by runtime reclamation
	// notifications. Overflow is processed inline so delivery stays
	// at-least-once. Default 65536.
	ReclamationQueueCapacity int `yaml:"reclamation_queue_capacity"`

	// LeakQueueCapacity bounds the leak-event queue drained by the pusher.
	// Producers never block; overflow is dropped and counted. Default 8192.
	LeakQueueCapacity int `yaml:"leak_queue_capacity"`
}

// ServerConfig configures the management HTTP server.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// PusherConfig configures the scheduled leak-event pusher.
type PusherConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// SinksConfig groups the configured leak-event sinks.
type SinksConfig struct {
	Log   LogSinkConfig   `yaml:"log"`
	File  FileSinkConfig  `yaml:"file"`
	Kafka KafkaSinkConfig `yaml:"kafka"`
}

// LogSinkConfig configures the structured-log sink.
type LogSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"` // level the events are logged at, default warn
}

// FileSinkConfig configures the NDJSON file sink.
type FileSinkConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	MaxSizeMB   int64  `yaml:"max_size_mb"` // rotate after this size
	MaxFiles    int    `yaml:"max_files"`   // rotated files kept on disk
	Compression string `yaml:"compression"` // rotated-segment codec: none, gzip, snappy, lz4, zstd
}

// KafkaSinkConfig configures the Kafka sink.
type KafkaSinkConfig struct {
	Enabled         bool               `yaml:"enabled"`
	Brokers         []string           `yaml:"brokers"`
	Topic           string             `yaml:"topic"`
	Compression     string             `yaml:"compression"` // none, gzip, snappy, lz4, zstd
	RequiredAcks    int                `yaml:"required_acks"`
	BatchSize       int                `yaml:"batch_size"`
	BatchTimeout    string             `yaml:"batch_timeout"`
	MaxMessageBytes int                `yaml:"max_message_bytes"`
	RetryMax        int                `yaml:"retry_max"`
	Timeout         string             `yaml:"timeout"`
	QueueSize       int                `yaml:"queue_size"`
	Auth            KafkaAuthConfig    `yaml:"auth"`
	TLS             TLSConfig          `yaml:"tls"`
	Partitioning    PartitioningConfig `yaml:"partitioning"`
}

// KafkaAuthConfig configures SASL authentication for the Kafka sink.
type KafkaAuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Mechanism string `yaml:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// TLSConfig configures TLS for network sinks.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	CAFile             string `yaml:"ca_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// PartitioningConfig selects the Kafka partitioner strategy.
type PartitioningConfig struct {
	Strategy string `yaml:"strategy"` // hash, round-robin, random
}

// MonitoringConfig configures the resource monitor.
type MonitoringConfig struct {
	Enabled             bool          `yaml:"enabled"`
	CheckInterval       time.Duration `yaml:"check_interval"`
	GoroutineThreshold  int           `yaml:"goroutine_threshold"`
	MemoryThresholdMB   int64         `yaml:"memory_threshold_mb"`
	ActiveFlowThreshold int           `yaml:"active_flow_threshold"`
	AlertOnThreshold    bool          `yaml:"alert_on_threshold"`
}

// HotReloadConfig configures configuration hot-reloading. Only the
// non-hot-path subset of the configuration (log level, push interval) is
// re-applied on reload; tracker limits stay fixed for the process lifetime.
type HotReloadConfig struct {
	Enabled          bool          `yaml:"enabled"`
	DebounceInterval time.Duration `yaml:"debounce_interval"`
}

// TracingConfig configures OpenTelemetry tracing of background operations
// (drain, push, render). The observation hot path is never traced.
type TracingConfig struct {
	Enabled        bool              `yaml:"enabled"`
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	Exporter       string            `yaml:"exporter"` // jaeger, otlp
	Endpoint       string            `yaml:"endpoint"`
	SampleRate     float64           `yaml:"sample_rate"`
	BatchTimeout   time.Duration     `yaml:"batch_timeout"`
	MaxBatchSize   int               `yaml:"max_batch_size"`
	Headers        map[string]string `yaml:"headers"`
}
