// Package metrics declares and registers the Prometheus instrumentation for
// the flow tracer. Hot-path counters are kept as plain atomics inside the
// tracker and mirrored into these collectors by the stats updater, so the
// observation path never touches a Prometheus vector.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counter for observations accepted by the façade
	ObservationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_tracer_observations_total",
			Help: "Total number of method-call observations processed",
		},
		[]string{"outcome"}, // recorded, dropped
	)

	// Gauge for currently live tracked flows
	ActiveFlows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flow_tracer_active_flows",
		Help: "Number of currently live tracked flows",
	})

	// Gauge for trie node population
	TrieNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flow_tracer_trie_nodes",
		Help: "Approximate number of imprint trie nodes",
	})

	// Gauge for trie root population
	TrieRoots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flow_tracer_trie_roots",
		Help: "Number of imprint trie roots (allocation sites)",
	})

	// Counter for completed flow outcomes
	FlowOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_tracer_flow_outcomes_total",
			Help: "Total number of completed flows by outcome",
		},
		[]string{"outcome"}, // clean, leak
	)

	// Counter for leak events dropped at the bounded queue
	LeakEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flow_tracer_leak_events_dropped_total",
		Help: "Total leak events dropped because the queue was full",
	})

	// Gauge for leak queue occupancy
	LeakQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flow_tracer_leak_queue_depth",
		Help: "Current number of pending leak events",
	})

	// Gauge for leak queue utilization
	LeakQueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flow_tracer_leak_queue_utilization",
		Help: "Current utilization of the leak-event queue (0.0 to 1.0)",
	})

	// Counter for interner overflow returns
	InternerOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flow_tracer_interner_overflows_total",
		Help: "Total intern calls that returned un-canonicalized handles",
	})

	// Gauge for interner occupancy
	InternerSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flow_tracer_interner_size",
		Help: "Approximate number of canonicalized strings",
	})

	// Counter for events delivered to sinks
	EventsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_tracer_events_sent_total",
			Help: "Total number of leak events sent to sinks",
		},
		[]string{"sink_type", "status"},
	)

	// Histogram for push-cycle duration
	PushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flow_tracer_push_duration_seconds",
		Help:    "Time spent draining and pushing leak events",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	})

	// Histogram for reclamation drain duration
	ReclamationDrainDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flow_tracer_reclamation_drain_duration_seconds",
		Help:    "Time spent draining the reclamation queue",
		Buckets: prometheus.DefBuckets,
	})

	// Counter for errors by component
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_tracer_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// Gauge for component health
	ComponentHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flow_tracer_component_health",
			Help: "Health status of components (1 = healthy, 0 = unhealthy)",
		},
		[]string{"component_type", "component_name"},
	)

	// Histogram for management API response time
	ResponseTimeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flow_tracer_http_response_seconds",
			Help:    "Response time of management API endpoints",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	// Gauge for process memory usage
	MemoryUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flow_tracer_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
		[]string{"type"},
	)

	// Gauge for process CPU usage
	CPUUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flow_tracer_cpu_usage_percent",
		Help: "CPU usage percentage",
	})

	// Gauge for goroutine count
	Goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flow_tracer_goroutines",
		Help: "Number of goroutines",
	})
)

var registerOnce sync.Once

// Register registers the collectors that are not created through promauto.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ObservationsTotal,
			FlowOutcomesTotal,
			EventsSentTotal,
			ErrorsTotal,
			ComponentHealth,
			ResponseTimeSeconds,
			MemoryUsage,
			CPUUsage,
			Goroutines,
		)
	})
}
