package tracker

import (
	"reflect"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"ssw-flow-tracer/internal/imprint"
	"ssw-flow-tracer/internal/sinks"
	"ssw-flow-tracer/pkg/types"
)

const (
	flowShardCount = 64

	// DefaultReclamationCapacity bounds the reclamation queue when no
	// capacity is configured.
	DefaultReclamationCapacity = 65536
)

// flowShard is one stripe of the active flow table.
type flowShard struct {
	mu    sync.Mutex
	flows map[uintptr]*FlowState
}

// FlowTable is the concurrent mapping from each currently live tracked
// object (by identity) to its flow state.
//
// Reclamation uses the runtime's finalization mechanism as a reference
// queue: each pointer-kind object gets a finalizer that marks its flow state
// reclaimed and posts it to a bounded channel. When the channel is full the
// notification is handled inline so delivery stays at-least-once.
type FlowTable struct {
	shards [flowShardCount]flowShard

	trie  *imprint.Trie
	queue *sinks.LeakQueue

	reclaimCh chan *FlowState

	pool        sync.Pool
	poolEnabled bool

	logger *logrus.Logger

	live          atomic.Int64
	cleanReleases atomic.Int64
	leaksDetected atomic.Int64
}

// NewFlowTable creates a flow table feeding trie and emitting leak events
// into queue.
func NewFlowTable(trie *imprint.Trie, queue *sinks.LeakQueue, reclamationCapacity int, poolEnabled bool, logger *logrus.Logger) *FlowTable {
	if reclamationCapacity <= 0 {
		reclamationCapacity = DefaultReclamationCapacity
	}
	t := &FlowTable{
		trie:        trie,
		queue:       queue,
		reclaimCh:   make(chan *FlowState, reclamationCapacity),
		poolEnabled: poolEnabled,
		logger:      logger,
	}
	for i := range t.shards {
		t.shards[i].flows = make(map[uintptr]*FlowState)
	}
	t.pool.New = func() any { return new(FlowState) }
	return t
}

// identityOf extracts a stable identity word for obj. Only reference kinds
// have one; anything else cannot be tracked and the observation is dropped.
func identityOf(obj any) (uintptr, bool) {
	if obj == nil {
		return 0, false
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Ptr, reflect.UnsafePointer, reflect.Map, reflect.Chan, reflect.Func:
		if v.IsNil() {
			return 0, false
		}
		return v.Pointer(), true
	default:
		return 0, false
	}
}

func (t *FlowTable) shardFor(id uintptr) *flowShard {
	// Fibonacci mix; pointer identities share aligned low bits.
	h := uint64(id) * 0x9E3779B97F4A7C15
	return &t.shards[h>>(64-6)]
}

// GetOrCreate returns the flow for obj, creating one on first observation.
// The boolean reports creation. A nil flow means the observation cannot be
// tracked (untrackable identity, or the trie is saturated with no roots).
//
// An existing entry whose object has already been reclaimed but whose queue
// notification has not been drained yet is finalized inline and replaced,
// mirroring the weak-reference-no-longer-resolves check.
func (t *FlowTable) GetOrCreate(obj any, methodSignature string, refCount int, direct bool) (*FlowState, bool) {
	id, ok := identityOf(obj)
	if !ok {
		return nil, false
	}

	s := t.shardFor(id)
	s.mu.Lock()
	if fs, exists := s.flows[id]; exists {
		if !fs.reclaimed.Load() {
			s.mu.Unlock()
			return fs, false
		}
		// Identity reuse: the previous occupant of this address was
		// reclaimed and is still waiting in the queue. Settle it now;
		// the queued notification becomes a no-op.
		delete(s.flows, id)
		s.mu.Unlock()
		t.settleLeak(fs, false)
		// The same object may still carry the old hook; a second
		// SetFinalizer on it would abort the process.
		t.clearReclamationHook(obj)
		s.mu.Lock()
		if fresh, exists := s.flows[id]; exists {
			// Another observer repopulated the identity meanwhile.
			s.mu.Unlock()
			return fresh, false
		}
	}

	root := t.trie.GetOrCreateRoot(methodSignature, refCount)
	if root == nil {
		s.mu.Unlock()
		return nil, false
	}

	fs := t.newFlowState(id, root, direct)
	s.flows[id] = fs
	s.mu.Unlock()
	t.live.Add(1)

	t.registerReclamationHook(obj, fs)
	return fs, true
}

func (t *FlowTable) newFlowState(id uintptr, root *imprint.Node, direct bool) *FlowState {
	var fs *FlowState
	if t.poolEnabled {
		fs = t.pool.Get().(*FlowState)
	} else {
		fs = new(FlowState)
	}
	fs.reset(id, root, direct)
	return fs
}

// registerReclamationHook installs the finalizer that stands in for a weak
// reference plus reference queue. Interior pointers and non-pointer kinds
// make SetFinalizer panic; those objects stay tracked without a hook and are
// only swept at shutdown.
func (t *FlowTable) registerReclamationHook(obj any, fs *FlowState) {
	if reflect.ValueOf(obj).Kind() != reflect.Ptr {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.WithField("cause", r).Debug("Reclamation hook not installed for object")
		}
	}()
	runtime.SetFinalizer(obj, func(_ any) {
		fs.reclaimed.Store(true)
		select {
		case t.reclaimCh <- fs:
		default:
			// Queue full: settle inline rather than lose the signal.
			t.handleReclaimed(fs)
		}
	})
}

// clearReclamationHook removes the finalizer after a clean release so the
// flow state can be recycled without a pending hook referencing it.
func (t *FlowTable) clearReclamationHook(obj any) {
	if reflect.ValueOf(obj).Kind() != reflect.Ptr {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.WithField("cause", r).Debug("Reclamation hook not cleared for object")
		}
	}()
	runtime.SetFinalizer(obj, nil)
}

// RecordCleanRelease terminates fs after a zero reference count was
// observed: the flow completes, the clean outcome lands on its current node
// and the entry is removed and recycled. Safe against concurrent releases of
// the same flow; only the completing caller records the outcome.
func (t *FlowTable) RecordCleanRelease(obj any, fs *FlowState) {
	if fs == nil {
		return
	}
	if !fs.tryComplete() {
		return
	}

	s := t.shardFor(fs.id)
	s.mu.Lock()
	if current, exists := s.flows[fs.id]; exists && current == fs {
		delete(s.flows, fs.id)
	}
	s.mu.Unlock()
	t.live.Add(-1)

	t.clearReclamationHook(obj)
	t.trie.RecordOutcome(fs.Node(), true)
	t.cleanReleases.Add(1)
	t.recycle(fs)
}

// ProcessReclamationQueue drains pending reclamation notifications in the
// caller's context. Idempotent and safe to call from multiple goroutines.
func (t *FlowTable) ProcessReclamationQueue() int {
	drained := 0
	for {
		select {
		case fs := <-t.reclaimCh:
			t.handleReclaimed(fs)
			drained++
		default:
			return drained
		}
	}
}

// drainSome opportunistically settles up to n notifications; used on the
// façade's fast path.
func (t *FlowTable) drainSome(n int) {
	for i := 0; i < n; i++ {
		select {
		case fs := <-t.reclaimCh:
			t.handleReclaimed(fs)
		default:
			return
		}
	}
}

// handleReclaimed settles one reclaimed-without-release flow: if it was not
// completed by a clean release it is a leak.
func (t *FlowTable) handleReclaimed(fs *FlowState) {
	if !fs.tryComplete() {
		// Completed already: clean release won the race, or the entry was
		// settled inline when its identity word was reused.
		return
	}

	s := t.shardFor(fs.id)
	s.mu.Lock()
	if current, exists := s.flows[fs.id]; exists && current == fs {
		delete(s.flows, fs.id)
	}
	s.mu.Unlock()
	t.live.Add(-1)

	t.settleLeakCompleted(fs, true)
}

// settleLeak completes fs (when not already terminal) and records the leak.
func (t *FlowTable) settleLeak(fs *FlowState, recycle bool) {
	if !fs.tryComplete() {
		return
	}
	t.live.Add(-1)
	t.settleLeakCompleted(fs, recycle)
}

// settleLeakCompleted records the leak outcome and event for an
// already-completed flow.
func (t *FlowTable) settleLeakCompleted(fs *FlowState, recycle bool) {
	node := fs.Node()
	t.trie.RecordOutcome(node, false)
	t.leaksDetected.Add(1)

	t.queue.Offer(types.LeakEvent{
		RootMethod: fs.RootMethod(),
		Direct:     fs.Direct(),
		DetectedAt: time.Now(),
		Path:       node.PathString(),
	})

	if recycle {
		t.recycle(fs)
	}
}

// MarkRemainingAsLeaks treats every still-live flow as a leak. Called at
// shutdown after a final reclamation drain. States are not recycled here: a
// reclamation hook may still fire against them later.
func (t *FlowTable) MarkRemainingAsLeaks() int {
	marked := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		remaining := make([]*FlowState, 0, len(s.flows))
		for _, fs := range s.flows {
			remaining = append(remaining, fs)
		}
		s.flows = make(map[uintptr]*FlowState)
		s.mu.Unlock()

		for _, fs := range remaining {
			if fs.tryComplete() {
				t.live.Add(-1)
				t.settleLeakCompleted(fs, false)
				marked++
			}
		}
	}
	return marked
}

// recycle returns a state to the pool. Callers guarantee the state has been
// removed from the table and that no pending reclamation hook can still
// reference it.
func (t *FlowTable) recycle(fs *FlowState) {
	if !t.poolEnabled {
		return
	}
	fs.node.Store(nil)
	t.pool.Put(fs)
}

// Len returns the number of currently live flows.
func (t *FlowTable) Len() int {
	return int(t.live.Load())
}

// CleanReleases returns the total clean-release count.
func (t *FlowTable) CleanReleases() int64 {
	return t.cleanReleases.Load()
}

// LeaksDetected returns the total leak count.
func (t *FlowTable) LeaksDetected() int64 {
	return t.leaksDetected.Load()
}

// ReclamationBacklog returns the number of undrained notifications.
func (t *FlowTable) ReclamationBacklog() int {
	return len(t.reclaimCh)
}

// Reset drops every live flow without recording outcomes. Part of the global
// reset only; pending hooks against dropped states become no-ops because the
// states are left completed.
func (t *FlowTable) Reset() {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for _, fs := range s.flows {
			fs.tryComplete()
		}
		s.flows = make(map[uintptr]*FlowState)
		s.mu.Unlock()
	}
	for {
		select {
		case fs := <-t.reclaimCh:
			fs.tryComplete()
		default:
			t.live.Store(0)
			t.cleanReleases.Store(0)
			t.leaksDetected.Store(0)
			return
		}
	}
}
