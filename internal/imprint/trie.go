package imprint

import (
	"sync"
	"sync/atomic"

	"ssw-flow-tracer/pkg/intern"
)

// Default limits. MaxNodes bounds total memory to a small number of hundreds
// of MB even under adversarial workloads; MaxChildren stops per-node fan-out
// explosion from signature churn.
const (
	DefaultMaxNodes    = 1_000_000
	DefaultMaxDepth    = 100
	DefaultMaxChildren = 1000
)

// Trie is the shared path-aggregating imprint trie.
//
// All methods are safe for concurrent use. The node counter is approximate:
// it is incremented after successful creation and may slightly exceed the cap
// under concurrency; it is a soft bound only.
type Trie struct {
	interner *intern.Table

	roots     sync.Map // nodeKey -> *Node
	rootCount atomic.Int64
	nodeCount atomic.Int64

	maxNodes    int64
	maxDepth    int
	maxChildren int32
}

// Options configures a Trie. Zero fields fall back to defaults.
type Options struct {
	MaxNodes    int64
	MaxDepth    int
	MaxChildren int
	Interner    *intern.Table
}

// New creates an imprint trie.
func New(opts Options) *Trie {
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.MaxChildren <= 0 {
		opts.MaxChildren = DefaultMaxChildren
	}
	if opts.Interner == nil {
		opts.Interner = intern.NewTable(int(2 * opts.MaxNodes))
	}
	return &Trie{
		interner:    opts.Interner,
		maxNodes:    opts.MaxNodes,
		maxDepth:    opts.MaxDepth,
		maxChildren: int32(opts.MaxChildren),
	}
}

// Interner returns the trie's string interner.
func (t *Trie) Interner() *intern.Table {
	return t.interner
}

// GetOrCreateRoot resolves the allocation-site root for an interned signature
// and the bucket of the first observed reference count, creating it if absent
// and under the global node cap. A traversal is recorded on the returned node.
//
// When the cap is reached and the root does not exist, some existing root
// (any) is returned instead; nil is returned only when the trie holds no
// nodes at all, in which case the caller drops the observation.
func (t *Trie) GetOrCreateRoot(signature string, refCount int) *Node {
	sig := t.interner.Intern(signature)
	key := nodeKey{sig: sig, bucket: Bucket(refCount)}

	if v, ok := t.roots.Load(key); ok {
		root := v.(*Node)
		root.recordTraversal()
		return root
	}

	if t.nodeCount.Load() >= t.maxNodes {
		root := t.anyRoot()
		if root != nil {
			root.recordTraversal()
		}
		return root
	}

	candidate := newNode(sig, key.bucket, nil)
	if v, loaded := t.roots.LoadOrStore(key, candidate); loaded {
		root := v.(*Node)
		root.recordTraversal()
		return root
	}
	t.nodeCount.Add(1)
	t.rootCount.Add(1)
	candidate.recordTraversal()
	return candidate
}

// anyRoot returns an arbitrary existing root, or nil when there is none.
func (t *Trie) anyRoot() *Node {
	var root *Node
	t.roots.Range(func(_, v any) bool {
		root = v.(*Node)
		return false
	})
	return root
}

// TraverseOrCreate advances one trie level from parent for an observation of
// signature at refCount, and records a traversal on the result.
//
// Stop-on-limit: past the depth cap, past the global node cap, or when the
// parent's fan-out is saturated and the child does not already exist, the
// parent itself is returned and no node is created.
func (t *Trie) TraverseOrCreate(parent *Node, signature string, refCount, currentDepth int) *Node {
	if parent == nil {
		return nil
	}
	if currentDepth >= t.maxDepth {
		return parent
	}
	if t.nodeCount.Load() >= t.maxNodes {
		return parent
	}

	sig := t.interner.Intern(signature)
	key := nodeKey{sig: sig, bucket: Bucket(refCount)}

	cm := parent.ensureChildren()
	if v, ok := cm.m.Load(key); ok {
		child := v.(*Node)
		child.recordTraversal()
		return child
	}

	// Reserve a fan-out slot before inserting so the child map never holds
	// more than maxChildren successfully inserted entries, even under races.
	if cm.size.Add(1) > t.maxChildren {
		cm.size.Add(-1)
		return parent
	}
	candidate := newNode(sig, key.bucket, parent)
	if v, loaded := cm.m.LoadOrStore(key, candidate); loaded {
		cm.size.Add(-1)
		child := v.(*Node)
		child.recordTraversal()
		return child
	}
	t.nodeCount.Add(1)
	candidate.recordTraversal()
	return candidate
}

// RecordOutcome tallies a completed flow on the node it terminated at.
func (t *Trie) RecordOutcome(node *Node, wasClean bool) {
	if node == nil {
		return
	}
	if wasClean {
		node.clean.Add(1)
	} else {
		node.leaked.Add(1)
	}
}

// Roots returns a snapshot slice of the root nodes. No consistency with
// concurrent insertions is guaranteed.
func (t *Trie) Roots() []*Node {
	out := make([]*Node, 0, t.rootCount.Load())
	t.roots.Range(func(_, v any) bool {
		out = append(out, v.(*Node))
		return true
	})
	return out
}

// NodeCount returns the approximate total node count.
func (t *Trie) NodeCount() int64 {
	return t.nodeCount.Load()
}

// RootCount returns the number of allocation-site roots.
func (t *Trie) RootCount() int {
	return int(t.rootCount.Load())
}

// MaxNodes returns the configured global node cap.
func (t *Trie) MaxNodes() int64 {
	return t.maxNodes
}

// MaxDepth returns the configured depth cap.
func (t *Trie) MaxDepth() int {
	return t.maxDepth
}

// MaxChildren returns the configured per-node fan-out cap.
func (t *Trie) MaxChildren() int {
	return int(t.maxChildren)
}

// Reset zeroes the trie and its interner. Flows created against the old
// generation must be discarded by the caller before new observations arrive;
// never called on the hot path.
func (t *Trie) Reset() {
	t.roots.Range(func(k, _ any) bool {
		t.roots.Delete(k)
		return true
	})
	t.rootCount.Store(0)
	t.nodeCount.Store(0)
	t.interner.Clear()
}
