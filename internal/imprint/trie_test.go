package imprint

import (
	"fmt"
	"sync"
	"testing"

	"ssw-flow-tracer/pkg/intern"
)

func newTestTrie(maxNodes int64, maxDepth, maxChildren int) *Trie {
	return New(Options{
		MaxNodes:    maxNodes,
		MaxDepth:    maxDepth,
		MaxChildren: maxChildren,
		Interner:    intern.NewTable(1 << 16),
	})
}

func TestBucketing(t *testing.T) {
	cases := []struct {
		refCount int
		bucket   uint8
	}{
		{-1, 0}, {0, 0},
		{1, 1}, {2, 1},
		{3, 2}, {4, 2}, {5, 2},
		{6, 3}, {100, 3},
	}
	for _, tc := range cases {
		if got := Bucket(tc.refCount); got != tc.bucket {
			t.Errorf("Bucket(%d) = %d, expected %d", tc.refCount, got, tc.bucket)
		}
	}
}

func TestBucketingMonotonic(t *testing.T) {
	prev := Bucket(0)
	for rc := 1; rc <= 64; rc++ {
		cur := Bucket(rc)
		if cur < prev {
			t.Fatalf("Bucketing not monotonic at ref count %d: %d < %d", rc, cur, prev)
		}
		prev = cur
	}
}

func TestGetOrCreateRoot(t *testing.T) {
	trie := newTestTrie(100, 10, 10)

	root := trie.GetOrCreateRoot("A.alloc", 1)
	if root == nil {
		t.Fatal("Expected a root")
	}
	if !root.IsRoot() {
		t.Error("Expected root to have no parent")
	}
	if root.Signature() != "A.alloc" || root.Bucket() != 1 {
		t.Errorf("Unexpected root identity: %s bucket %d", root.Signature(), root.Bucket())
	}
	if root.Traversals() != 1 {
		t.Errorf("Expected 1 traversal, got %d", root.Traversals())
	}

	again := trie.GetOrCreateRoot("A.alloc", 2) // same bucket
	if again != root {
		t.Error("Expected the same root for the same (signature, bucket)")
	}
	if again.Traversals() != 2 {
		t.Errorf("Expected 2 traversals, got %d", again.Traversals())
	}

	other := trie.GetOrCreateRoot("A.alloc", 4) // bucket 2
	if other == root {
		t.Error("Expected a distinct root for a distinct bucket")
	}

	if trie.RootCount() != 2 {
		t.Errorf("Expected 2 roots, got %d", trie.RootCount())
	}
	if trie.NodeCount() != 2 {
		t.Errorf("Expected 2 nodes, got %d", trie.NodeCount())
	}
}

func TestTraverseOrCreate(t *testing.T) {
	trie := newTestTrie(100, 10, 10)

	root := trie.GetOrCreateRoot("A.alloc", 1)
	use := trie.TraverseOrCreate(root, "B.use", 1, 0)
	free := trie.TraverseOrCreate(use, "C.free", 0, 1)

	if use.Parent() != root || free.Parent() != use {
		t.Error("Expected parent chain root <- use <- free")
	}
	if free.Bucket() != 0 {
		t.Errorf("Expected released bucket on free node, got %d", free.Bucket())
	}
	if trie.NodeCount() != 3 {
		t.Errorf("Expected 3 nodes, got %d", trie.NodeCount())
	}

	// Resolving the same child again creates nothing.
	again := trie.TraverseOrCreate(root, "B.use", 2, 0) // bucket 1, same key
	if again != use {
		t.Error("Expected existing child to resolve")
	}
	if trie.NodeCount() != 3 {
		t.Errorf("Expected node count unchanged, got %d", trie.NodeCount())
	}
	if use.Traversals() != 2 {
		t.Errorf("Expected 2 traversals on child, got %d", use.Traversals())
	}
}

func TestTraverseDepthCap(t *testing.T) {
	trie := newTestTrie(1000, 3, 10)

	node := trie.GetOrCreateRoot("A.alloc", 1)
	depth := 0
	for i := 0; i < 10; i++ {
		next := trie.TraverseOrCreate(node, fmt.Sprintf("B.m%d", i), 1, depth)
		if depth >= 3 {
			if next != node {
				t.Fatalf("Expected no progress at depth %d", depth)
			}
			continue
		}
		if next == node {
			t.Fatalf("Expected progress at depth %d", depth)
		}
		node = next
		depth++
	}
	// Root plus exactly maxDepth descendants.
	if trie.NodeCount() != 4 {
		t.Errorf("Expected 4 nodes, got %d", trie.NodeCount())
	}
}

func TestFanOutSaturation(t *testing.T) {
	const maxChildren = 16
	trie := newTestTrie(10_000, 10, maxChildren)

	root := trie.GetOrCreateRoot("A.alloc", 1)
	for i := 0; i < maxChildren; i++ {
		child := trie.TraverseOrCreate(root, fmt.Sprintf("B.m%d", i), 1, 0)
		if child == root {
			t.Fatalf("Expected child %d to be created", i)
		}
	}
	if root.ChildCount() != maxChildren {
		t.Fatalf("Expected %d children, got %d", maxChildren, root.ChildCount())
	}

	// The next distinct child request is silently dropped.
	dropped := trie.TraverseOrCreate(root, "B.overflow", 1, 0)
	if dropped != root {
		t.Error("Expected saturated node to return the parent")
	}
	if root.ChildCount() != maxChildren {
		t.Errorf("Expected child count unchanged, got %d", root.ChildCount())
	}

	// Existing children still resolve after saturation.
	existing := trie.TraverseOrCreate(root, "B.m0", 1, 0)
	if existing == root || existing.Signature() != "B.m0" {
		t.Error("Expected existing child to resolve after saturation")
	}
}

func TestFanOutSaturationConcurrent(t *testing.T) {
	const maxChildren = 100
	trie := newTestTrie(1_000_000, 10, maxChildren)
	root := trie.GetOrCreateRoot("A.alloc", 1)

	const goroutines = 8
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 400; i++ {
				trie.TraverseOrCreate(root, fmt.Sprintf("B.m%d", i), 1, 0)
			}
		}(g)
	}
	wg.Wait()

	if root.ChildCount() > maxChildren {
		t.Errorf("Fan-out cap violated: %d children inserted", root.ChildCount())
	}
}

func TestGlobalNodeCap(t *testing.T) {
	const maxNodes = 8
	trie := newTestTrie(maxNodes, 10, 100)

	for i := 0; i < 20; i++ {
		trie.GetOrCreateRoot(fmt.Sprintf("A.alloc%d", i), 1)
	}
	if trie.NodeCount() != maxNodes {
		t.Errorf("Expected node count pinned at %d, got %d", maxNodes, trie.NodeCount())
	}
	if trie.RootCount() != maxNodes {
		t.Errorf("Expected %d roots, got %d", maxNodes, trie.RootCount())
	}

	// Overflow root requests resolve to some existing root.
	overflow := trie.GetOrCreateRoot("A.overflowRoot", 1)
	if overflow == nil {
		t.Fatal("Expected an existing root for an overflow request")
	}
	if !overflow.IsRoot() {
		t.Error("Expected the fallback node to be a root")
	}

	// Child creation is refused at the cap too.
	child := trie.TraverseOrCreate(overflow, "B.use", 1, 0)
	if child != overflow {
		t.Error("Expected traversal at the cap to return the current node")
	}
}

func TestNodeCapSoftBoundUnderConcurrency(t *testing.T) {
	const maxNodes = 200
	trie := newTestTrie(maxNodes, 10, 1000)

	const goroutines = 8
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				trie.GetOrCreateRoot(fmt.Sprintf("A.alloc_%d_%d", g, i), 1)
			}
		}(g)
	}
	wg.Wait()

	// The counter is approximate; allow the documented soft-bound slack.
	if trie.NodeCount() > maxNodes*3/2 {
		t.Errorf("Node count %d exceeds soft bound %d", trie.NodeCount(), maxNodes*3/2)
	}
}

func TestRecordOutcome(t *testing.T) {
	trie := newTestTrie(100, 10, 10)
	root := trie.GetOrCreateRoot("A.alloc", 1)
	leaf := trie.TraverseOrCreate(root, "C.free", 0, 0)

	trie.RecordOutcome(leaf, true)
	trie.RecordOutcome(leaf, true)
	trie.RecordOutcome(leaf, false)

	if leaf.CleanCount() != 2 {
		t.Errorf("Expected clean=2, got %d", leaf.CleanCount())
	}
	if leaf.LeakCount() != 1 {
		t.Errorf("Expected leak=1, got %d", leaf.LeakCount())
	}

	// Nil node is a no-op.
	trie.RecordOutcome(nil, true)
}

func TestPathString(t *testing.T) {
	trie := newTestTrie(100, 10, 10)
	root := trie.GetOrCreateRoot("A.alloc", 1)
	use := trie.TraverseOrCreate(root, "B.use", 1, 0)
	ret := trie.TraverseOrCreate(use, "B.use_return", 1, 1)

	if got := ret.PathString(); got != "A.alloc -> B.use -> B.use_return" {
		t.Errorf("Unexpected path: %q", got)
	}
	if got := root.PathString(); got != "A.alloc" {
		t.Errorf("Unexpected root path: %q", got)
	}
	if got := ret.RootMethod(); got != "A.alloc" {
		t.Errorf("Unexpected root method: %q", got)
	}
}

func TestClassAndMethodDerivation(t *testing.T) {
	trie := newTestTrie(100, 10, 10)

	node := trie.GetOrCreateRoot("io.pool.PooledBuffer.retain", 1)
	if node.ClassName() != "io.pool.PooledBuffer" {
		t.Errorf("Unexpected class: %q", node.ClassName())
	}
	if node.MethodName() != "retain" {
		t.Errorf("Unexpected method: %q", node.MethodName())
	}

	// Malformed signature: the whole string is the class, method is empty.
	malformed := trie.GetOrCreateRoot("NoDotHere", 1)
	if malformed.ClassName() != "NoDotHere" || malformed.MethodName() != "" {
		t.Errorf("Unexpected malformed split: %q / %q", malformed.ClassName(), malformed.MethodName())
	}
}

func TestResetThenReplayMatches(t *testing.T) {
	replay := func(trie *Trie) {
		root := trie.GetOrCreateRoot("A.alloc", 1)
		use := trie.TraverseOrCreate(root, "B.use", 1, 0)
		free := trie.TraverseOrCreate(use, "C.free", 0, 1)
		trie.RecordOutcome(free, true)
	}

	fresh := newTestTrie(100, 10, 10)
	replay(fresh)

	reset := newTestTrie(100, 10, 10)
	replay(reset)
	reset.Reset()
	if reset.NodeCount() != 0 || reset.RootCount() != 0 {
		t.Fatal("Expected an empty trie after reset")
	}
	replay(reset)

	freshView := fresh.Snapshot()
	resetView := reset.Snapshot()
	freshView.MaxNodes = 0 // limits compared separately
	resetView.MaxNodes = 0
	if fmt.Sprintf("%+v", freshView) != fmt.Sprintf("%+v", resetView) {
		t.Errorf("Replay after reset diverged:\nfresh: %+v\nreset: %+v", freshView, resetView)
	}
}
