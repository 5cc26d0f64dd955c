// Package imprint implements the bounded, concurrent prefix tree that
// aggregates the call paths of tracked objects.
//
// Nodes represent (method signature, reference-count bucket) observations.
// Root nodes are allocation sites; children are subsequent observed method
// calls. Every node accumulates a traversal counter plus clean/leak outcome
// tallies. The trie enforces a per-node fan-out cap, a per-path depth cap and
// a global node cap with a stop-on-limit policy: limits are enforced by
// refusing growth, never by evicting (eviction would cost cache coherence and
// make dropped paths non-deterministic).
package imprint

import (
	"strings"
	"sync"
	"sync/atomic"
)

// nodeKey identifies a child under one parent. The signature handle comes
// from the interner, so equality is a single pointer compare plus the bucket.
type nodeKey struct {
	sig    *string
	bucket uint8
}

// Bucket quantizes a raw reference count to limit path explosion:
// 0 -> 0 (released), 1-2 -> 1 (low), 3-5 -> 2 (medium), >=6 -> 3 (high).
// Counts below zero are clamped to the released bucket.
func Bucket(refCount int) uint8 {
	switch {
	case refCount <= 0:
		return 0
	case refCount <= 2:
		return 1
	case refCount <= 5:
		return 2
	default:
		return 3
	}
}

// childMap is the lazily allocated child table of one node. The concurrent
// map carries the children; size counts successful insertions so the fan-out
// cap can be enforced (sync.Map has no length).
type childMap struct {
	m    sync.Map // nodeKey -> *Node
	size atomic.Int32
}

// Node is one imprint trie node. Identity (signature, bucket, parent) is
// immutable after creation; counters only grow; nodes are never deleted.
type Node struct {
	sig    *string
	bucket uint8
	parent *Node

	traversals atomic.Int64
	clean      atomic.Int64
	leaked     atomic.Int64

	// children is published lazily on first insertion. The atomic pointer
	// gives safe one-time publication with lock-free reads afterwards;
	// leaves never pay for an empty map.
	children atomic.Pointer[childMap]
}

func newNode(sig *string, bucket uint8, parent *Node) *Node {
	return &Node{sig: sig, bucket: bucket, parent: parent}
}

// Signature returns the node's method signature ("ClassName.methodName").
func (n *Node) Signature() string {
	return *n.sig
}

// SignatureHandle returns the interned signature handle.
func (n *Node) SignatureHandle() *string {
	return n.sig
}

// Bucket returns the node's reference-count bucket (0-3).
func (n *Node) Bucket() int {
	return int(n.bucket)
}

// Parent returns the parent node, or nil for roots.
func (n *Node) Parent() *Node {
	return n.parent
}

// IsRoot reports whether the node is an allocation-site root.
func (n *Node) IsRoot() bool {
	return n.parent == nil
}

// ClassName returns the class portion of the signature (everything before
// the last '.'). A signature without a '.' is treated as all class.
func (n *Node) ClassName() string {
	sig := *n.sig
	if i := strings.LastIndexByte(sig, '.'); i >= 0 {
		return sig[:i]
	}
	return sig
}

// MethodName returns the method portion of the signature (everything after
// the last '.'), or "" for a signature without a '.'.
func (n *Node) MethodName() string {
	sig := *n.sig
	if i := strings.LastIndexByte(sig, '.'); i >= 0 {
		return sig[i+1:]
	}
	return ""
}

// Traversals returns how many times a flow has traversed this node.
func (n *Node) Traversals() int64 {
	return n.traversals.Load()
}

// CleanCount returns how many flows terminated on this node by clean release.
func (n *Node) CleanCount() int64 {
	return n.clean.Load()
}

// LeakCount returns how many flows terminated on this node by reclamation.
func (n *Node) LeakCount() int64 {
	return n.leaked.Load()
}

func (n *Node) recordTraversal() {
	n.traversals.Add(1)
}

// loadChildren returns the child map without allocating it.
func (n *Node) loadChildren() *childMap {
	return n.children.Load()
}

// ensureChildren returns the child map, publishing it on first use.
func (n *Node) ensureChildren() *childMap {
	if cm := n.children.Load(); cm != nil {
		return cm
	}
	cm := &childMap{}
	if n.children.CompareAndSwap(nil, cm) {
		return cm
	}
	return n.children.Load()
}

// ChildCount returns the number of successfully inserted children.
func (n *Node) ChildCount() int {
	cm := n.loadChildren()
	if cm == nil {
		return 0
	}
	return int(cm.size.Load())
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return n.ChildCount() == 0
}

// Children returns a snapshot slice of the node's children. Order is not
// specified; concurrent insertions may or may not be included.
func (n *Node) Children() []*Node {
	cm := n.loadChildren()
	if cm == nil {
		return nil
	}
	out := make([]*Node, 0, cm.size.Load())
	cm.m.Range(func(_, v any) bool {
		out = append(out, v.(*Node))
		return true
	})
	return out
}

// PathString reconstructs the call path from the root to this node,
// e.g. "A.alloc -> B.use -> B.use_return".
func (n *Node) PathString() string {
	var sigs []string
	for cur := n; cur != nil; cur = cur.parent {
		sigs = append(sigs, *cur.sig)
	}
	var b strings.Builder
	for i := len(sigs) - 1; i >= 0; i-- {
		b.WriteString(sigs[i])
		if i > 0 {
			b.WriteString(" -> ")
		}
	}
	return b.String()
}

// RootMethod returns the signature of the root this node descends from.
func (n *Node) RootMethod() string {
	cur := n
	for cur.parent != nil {
		cur = cur.parent
	}
	return *cur.sig
}
