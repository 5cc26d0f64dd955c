package imprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssw-flow-tracer/pkg/intern"
)

func buildRenderFixture(t *testing.T) *Trie {
	t.Helper()
	trie := New(Options{
		MaxNodes:    100,
		MaxDepth:    10,
		MaxChildren: 10,
		Interner:    intern.NewTable(1024),
	})

	root := trie.GetOrCreateRoot("A.alloc", 1)
	use := trie.TraverseOrCreate(root, "B.use", 1, 0)
	free := trie.TraverseOrCreate(use, "C.free", 0, 1)
	trie.RecordOutcome(free, true)

	leakUse := trie.TraverseOrCreate(root, "D.forget", 1, 0)
	trie.RecordOutcome(leakUse, false)
	return trie
}

func TestSnapshot(t *testing.T) {
	trie := buildRenderFixture(t)
	view := trie.Snapshot()

	require.Len(t, view.Roots, 1)
	root := view.Roots[0]
	assert.Equal(t, "A.alloc", root.Signature)
	assert.Equal(t, 1, root.Bucket)
	require.Len(t, root.Children, 2)

	// Leak-heaviest sibling first.
	assert.Equal(t, "D.forget", root.Children[0].Signature)
	assert.Equal(t, int64(1), root.Children[0].Leaks)
	assert.Equal(t, "B.use", root.Children[1].Signature)

	require.Len(t, root.Children[1].Children, 1)
	free := root.Children[1].Children[0]
	assert.Equal(t, "C.free", free.Signature)
	assert.Equal(t, 0, free.Bucket)
	assert.Equal(t, int64(1), free.Clean)
	assert.Empty(t, free.Children)

	assert.Equal(t, int64(4), view.NodeCount)
	assert.Equal(t, 1, view.RootCount)
}

func TestRenderText(t *testing.T) {
	trie := buildRenderFixture(t)
	text := trie.RenderText()

	assert.Contains(t, text, "4 nodes, 1 roots")
	assert.Contains(t, text, "A.alloc [b1]")
	assert.Contains(t, text, "  B.use [b1]")
	assert.Contains(t, text, "    C.free [b0]")
	assert.Contains(t, text, "clean=1")
	assert.Contains(t, text, "leaks=1")

	// Children indent one level under their parents.
	lines := strings.Split(strings.TrimSpace(text), "\n")
	require.Greater(t, len(lines), 3)
	assert.False(t, strings.HasPrefix(lines[1], " "), "root line must not be indented")
}

func TestSnapshotEmptyTrie(t *testing.T) {
	trie := New(Options{MaxNodes: 10, MaxDepth: 5, MaxChildren: 5, Interner: intern.NewTable(64)})
	view := trie.Snapshot()
	assert.Zero(t, view.NodeCount)
	assert.Empty(t, view.Roots)
}
