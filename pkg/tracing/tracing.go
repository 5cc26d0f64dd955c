// Package tracing manages OpenTelemetry tracing for the flow tracer's
// background operations (leak pushes, trie renders). The
// observation hot path is never traced.
package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"ssw-flow-tracer/pkg/types"
)

// Manager owns the tracer provider. A nil or disabled manager hands out
// no-op spans, so callers never need to guard their instrumentation.
type Manager struct {
	config   types.TracingConfig
	logger   *logrus.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// DefaultConfig returns the default tracing configuration.
func DefaultConfig() types.TracingConfig {
	return types.TracingConfig{
		Enabled:        false,
		ServiceName:    "ssw-flow-tracer",
		ServiceVersion: "v1.0.0",
		Environment:    "production",
		Exporter:       "otlp",
		Endpoint:       "localhost:4318",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MaxBatchSize:   512,
	}
}

// New creates a tracing manager.
func New(config types.TracingConfig, logger *logrus.Logger) (*Manager, error) {
	if !config.Enabled {
		return &Manager{
			config: config,
			logger: logger,
			tracer: otel.Tracer("noop"),
		}, nil
	}

	m := &Manager{config: config, logger: logger}
	if err := m.initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initialize() error {
	exporter, err := m.createExporter()
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(m.config.ServiceName),
			semconv.ServiceVersion(m.config.ServiceVersion),
			semconv.DeploymentEnvironment(m.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create trace resource: %w", err)
	}

	m.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter,
			trace.WithBatchTimeout(m.config.BatchTimeout),
			trace.WithMaxExportBatchSize(m.config.MaxBatchSize),
		),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(m.config.SampleRate)),
	)

	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	m.tracer = otel.Tracer(m.config.ServiceName)

	m.logger.WithFields(logrus.Fields{
		"service_name": m.config.ServiceName,
		"exporter":     m.config.Exporter,
		"endpoint":     m.config.Endpoint,
		"sample_rate":  m.config.SampleRate,
	}).Info("Distributed tracing initialized")

	return nil
}

func (m *Manager) createExporter() (trace.SpanExporter, error) {
	switch m.config.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(m.config.Endpoint)))

	case "otlp":
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(m.config.Endpoint),
		}
		if len(m.config.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(m.config.Headers))
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))

	default:
		return nil, fmt.Errorf("unknown trace exporter: %s", m.config.Exporter)
	}
}

// Start begins a span. Safe on a nil manager.
func (m *Manager) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	if m == nil || m.tracer == nil {
		return otel.Tracer("noop").Start(ctx, name)
	}
	return m.tracer.Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// Shutdown flushes and stops the provider.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m == nil || m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
