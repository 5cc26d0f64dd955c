// Package types defines core data structures and interfaces used throughout the flow tracer.
//
// This package provides:
//   - LeakEvent: The record emitted when a tracked object is reclaimed without release
//   - Observation: A single method-call observation in wire form (observe API, replay tool)
//   - Interface definitions for pluggable components (LeakSink, ObjectHandler)
//   - Configuration structures for all system components
//   - Statistics structures consumed by the management API and monitoring
//
// Key Concepts:
//   - Flow: the ordered sequence of observations for one tracked object, from
//     allocation to termination (clean release or runtime reclamation)
//   - Imprint: the trie record aggregating all observed flows; individual object
//     identity is not retained after completion, only per-path counters
//   - Bucket: coarse quantization of a reference count used as a trie-key
//     component to limit path explosion
package types

import "time"

// LeakEvent is the immutable record emitted when a tracked object is reclaimed
// by the runtime without its reference count ever reaching zero.
//
// Events are produced on the reclamation-drain path, buffered in a bounded
// queue and delivered to the configured sinks by the pusher on its own cadence.
type LeakEvent struct {
	// RootMethod is the allocation-site signature ("ClassName.methodName")
	// where the leaked object's flow started.
	RootMethod string `json:"root_method"`

	// Direct reports the direct/heap classification of the leaked object.
	Direct bool `json:"direct"`

	// DetectedAt is when the reclamation notification was processed.
	DetectedAt time.Time `json:"detected_at"`

	// Path is the fully reconstructed call path from the root to the node
	// where reclamation was detected, e.g. "A.alloc -> B.use -> B.use_return".
	Path string `json:"path"`
}

// Observation is one method-call observation of a tracked object.
//
// This is the wire form accepted by the observe endpoint and produced by the
// replay tool; in-process instrumentation calls the tracker façade directly.
type Observation struct {
	// ObjectID identifies the observed object within a replayed stream.
	// Distinct IDs are distinct objects.
	ObjectID string `json:"object_id"`

	// MethodSignature has the form "ClassName.methodName"; the last '.'
	// delimits class from method. Suffixes such as "_return" on the method
	// portion are treated as distinct methods.
	MethodSignature string `json:"method_signature"`

	// RefCount is the object's reference count at observation time.
	// Zero means fully released.
	RefCount int `json:"ref_count"`

	// Direct optionally classifies the object as direct (off-heap).
	Direct bool `json:"direct,omitempty"`
}

// TrackerStats is a point-in-time snapshot of tracker state, exposed through
// the /stats endpoint and sampled by the resource monitor.
type TrackerStats struct {
	Observations        int64 `json:"observations"`
	ActiveFlows         int   `json:"active_flows"`
	NodeCount           int64 `json:"node_count"`
	RootCount           int   `json:"root_count"`
	MaxNodes            int64 `json:"max_nodes"`
	MaxDepth            int   `json:"max_depth"`
	CleanReleases       int64 `json:"clean_releases"`
	LeaksDetected       int64 `json:"leaks_detected"`
	DroppedObservations int64 `json:"dropped_observations"`
	InternerSize        int   `json:"interner_size"`
	InternerOverflows   int64 `json:"interner_overflows"`
}

// SinkStats reports delivery statistics for one leak sink.
type SinkStats struct {
	SinkType string `json:"sink_type"`
	Emitted  int64  `json:"emitted"`
	Failed   int64  `json:"failed"`
	Healthy  bool   `json:"healthy"`
}

// PusherStats reports drain/push statistics for the leak-event pusher.
type PusherStats struct {
	PushCycles   int64       `json:"push_cycles"`
	EventsPushed int64       `json:"events_pushed"`
	LastPush     time.Time   `json:"last_push"`
	Sinks        []SinkStats `json:"sinks"`
}

// QueueStats reports occupancy of the bounded leak-event queue.
type QueueStats struct {
	Pending  int   `json:"pending"`
	Capacity int   `json:"capacity"`
	Enqueued int64 `json:"enqueued"`
	Dropped  int64 `json:"dropped"`
}
