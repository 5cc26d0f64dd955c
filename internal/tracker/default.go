package tracker

import (
	"sync"
	"sync/atomic"

	"ssw-flow-tracer/pkg/types"
)

// defaultInstance is the process-wide tracker that injected instrumentation
// routes through. It is built lazily with default limits on first use, so
// observation calls work even before Configure runs; Configure swaps in the
// configured instance at startup, before instrumentation is active.
var (
	defaultInstance atomic.Pointer[Tracker]
	defaultOnce     sync.Once
)

// Default returns the process-wide tracker.
func Default() *Tracker {
	if t := defaultInstance.Load(); t != nil {
		return t
	}
	defaultOnce.Do(func() {
		defaultInstance.CompareAndSwap(nil, New(types.TrackerConfig{}, nil))
	})
	return defaultInstance.Load()
}

// Configure replaces the process-wide tracker with t and returns it. Call
// once during initialization; observations already routed to the previous
// instance stay there.
func Configure(t *Tracker) *Tracker {
	defaultInstance.Store(t)
	return t
}

// RecordMethodCall routes an observation to the process-wide tracker.
func RecordMethodCall(obj any, methodSignature string, refCount int) {
	Default().RecordMethodCall(obj, methodSignature, refCount)
}
