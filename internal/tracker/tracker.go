package tracker

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"ssw-flow-tracer/internal/imprint"
	"ssw-flow-tracer/internal/sinks"
	"ssw-flow-tracer/pkg/intern"
	"ssw-flow-tracer/pkg/types"
)

// opportunisticDrainLimit caps how many reclamation notifications one
// observation will settle on the fast path.
const opportunisticDrainLimit = 4

// Tracker is the narrow entry point invoked by instrumentation on every
// method observation. It orchestrates lookup-or-create in the active flow
// table, trie traversal, outcome recording and leak-event emission.
//
// RecordMethodCall never fails visibly: any internal anomaly (queue full,
// interner overflow, limit reached) degrades by dropping the observation
// while the rest of the system proceeds.
type Tracker struct {
	trie  *imprint.Trie
	table *FlowTable
	queue *sinks.LeakQueue

	maxDepth int

	handlers []types.ObjectHandler

	logger *logrus.Logger

	observations atomic.Int64
	dropped      atomic.Int64
}

// New creates a tracker from a snapshot of cfg. Limits are fixed for the
// tracker's lifetime; there is no reconfiguration on the hot path.
func New(cfg types.TrackerConfig, logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = imprint.DefaultMaxNodes
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = imprint.DefaultMaxDepth
	}
	if cfg.InternerCapacity <= 0 {
		cfg.InternerCapacity = int(2 * cfg.MaxNodes)
	}

	trie := imprint.New(imprint.Options{
		MaxNodes:    cfg.MaxNodes,
		MaxDepth:    cfg.MaxDepth,
		MaxChildren: cfg.MaxChildren,
		Interner:    intern.NewTable(cfg.InternerCapacity),
	})
	queue := sinks.NewLeakQueue(cfg.LeakQueueCapacity)
	table := NewFlowTable(trie, queue, cfg.ReclamationQueueCapacity, cfg.FlowPoolEnabled, logger)

	return &Tracker{
		trie:     trie,
		table:    table,
		queue:    queue,
		maxDepth: cfg.MaxDepth,
		handlers: []types.ObjectHandler{RefCountedHandler{}},
		logger:   logger,
	}
}

// RecordMethodCall observes one method call on a tracked object.
//
// The signature has the form "ClassName.methodName"; the last '.' delimits
// class from method, and a signature without one is treated as all class.
// A zero refCount marks the flow as cleanly released and retires it.
func (t *Tracker) RecordMethodCall(obj any, methodSignature string, refCount int) {
	t.RecordMethodCallDirect(obj, methodSignature, refCount, false)
}

// RecordMethodCallDirect is RecordMethodCall with an explicit direct/heap
// classification for the tracked object.
func (t *Tracker) RecordMethodCallDirect(obj any, methodSignature string, refCount int, direct bool) {
	if obj == nil {
		return
	}

	t.table.drainSome(opportunisticDrainLimit)

	fs, created := t.table.GetOrCreate(obj, methodSignature, refCount, direct)
	if fs == nil {
		t.dropped.Add(1)
		return
	}
	t.observations.Add(1)

	if !created {
		if fs.Completed() {
			// Stale observation against a terminal flow.
			return
		}
		depth := fs.Depth()
		if depth < t.maxDepth {
			current := fs.Node()
			next := t.trie.TraverseOrCreate(current, methodSignature, refCount, depth)
			if next != nil && next != current {
				fs.advance(next)
			}
		}
	}

	if refCount == 0 {
		t.table.RecordCleanRelease(obj, fs)
	}
}

// RecordObject observes obj with a reference count resolved through the
// registered object handlers. Objects no handler applies to are dropped.
func (t *Tracker) RecordObject(obj any, methodSignature string) {
	if obj == nil {
		return
	}
	for _, h := range t.handlers {
		if h.Applies(obj) {
			t.RecordMethodCall(obj, methodSignature, h.RefCount(obj))
			return
		}
	}
	t.dropped.Add(1)
}

// RegisterHandler appends a custom object handler. Not safe to call
// concurrently with observations; register handlers during initialization.
func (t *Tracker) RegisterHandler(h types.ObjectHandler) {
	if h == nil {
		return
	}
	t.handlers = append(t.handlers, h)
}

// ProcessReclamationQueue synchronously settles pending reclamation
// notifications. Call before reading aggregates that must include recently
// reclaimed objects.
func (t *Tracker) ProcessReclamationQueue() int {
	return t.table.ProcessReclamationQueue()
}

// Trie exposes the read-only trie query surface for renderers.
func (t *Tracker) Trie() *imprint.Trie {
	return t.trie
}

// LeakQueue exposes the bounded leak-event queue for the pusher.
func (t *Tracker) LeakQueue() *sinks.LeakQueue {
	return t.queue
}

// Stats returns a point-in-time statistics snapshot.
func (t *Tracker) Stats() types.TrackerStats {
	interner := t.trie.Interner()
	return types.TrackerStats{
		Observations:        t.observations.Load(),
		ActiveFlows:         t.table.Len(),
		NodeCount:           t.trie.NodeCount(),
		RootCount:           t.trie.RootCount(),
		MaxNodes:            t.trie.MaxNodes(),
		MaxDepth:            t.trie.MaxDepth(),
		CleanReleases:       t.table.CleanReleases(),
		LeaksDetected:       t.table.LeaksDetected(),
		DroppedObservations: t.dropped.Load(),
		InternerSize:        interner.Size(),
		InternerOverflows:   interner.Overflows(),
	}
}

// Shutdown drains the reclamation queue and treats every remaining live
// flow as a leak, emitting events for each.
func (t *Tracker) Shutdown() {
	drained := t.table.ProcessReclamationQueue()
	marked := t.table.MarkRemainingAsLeaks()
	t.logger.WithFields(logrus.Fields{
		"reclaimed": drained,
		"marked":    marked,
	}).Info("Tracker shutdown: remaining flows marked as leaks")
}

// Reset zeroes all tracker state: flows, trie, interner, queue and counters.
// Observations racing a reset may land in either generation.
func (t *Tracker) Reset() {
	t.table.Reset()
	t.trie.Reset()
	t.queue.Drain()
	t.observations.Store(0)
	t.dropped.Store(0)
	t.logger.Info("Tracker state reset")
}
