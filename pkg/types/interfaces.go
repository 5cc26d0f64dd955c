// Package types - Interface definitions for pluggable components
package types

import "context"

// LeakSink defines the interface for leak-event output destinations.
//
// Sinks receive batches of leak events from the pusher and deliver them to
// their configured destinations. Implementations include the logrus sink,
// the NDJSON file sink and the Kafka sink.
type LeakSink interface {
	// Start initializes the sink and prepares it for receiving events
	Start(ctx context.Context) error
	// Emit delivers a batch of leak events to the sink destination
	Emit(ctx context.Context, events []LeakEvent) error
	// Stop gracefully shuts down the sink and flushes any buffered data
	Stop() error
	// IsHealthy checks if the sink is operational
	IsHealthy() bool
	// Stats returns delivery statistics for this sink
	Stats() SinkStats
}

// ObjectHandler decides whether an object qualifies as tracked and how to read
// its current reference count.
//
// Handlers run only in the RecordObject convenience path, never inside
// RecordMethodCall, so user code is never invoked on the observation hot path.
type ObjectHandler interface {
	// Applies reports whether this handler knows how to read obj
	Applies(obj any) bool
	// RefCount returns obj's current reference count
	RefCount(obj any) int
}

// RefCounted is implemented by objects that carry their own reference count,
// canonically pooled byte buffers.
type RefCounted interface {
	RefCount() int
}
