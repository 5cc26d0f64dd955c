package imprint

import (
	"fmt"
	"sort"
	"strings"
)

// NodeView is the JSON projection of one trie node, consumed by the
// management API and external renderers.
type NodeView struct {
	Signature  string     `json:"signature"`
	Bucket     int        `json:"bucket"`
	Traversals int64      `json:"traversals"`
	Clean      int64      `json:"clean"`
	Leaks      int64      `json:"leaks"`
	Children   []NodeView `json:"children,omitempty"`
}

// TrieView is the JSON projection of the whole trie.
type TrieView struct {
	NodeCount int64      `json:"node_count"`
	RootCount int        `json:"root_count"`
	MaxNodes  int64      `json:"max_nodes"`
	MaxDepth  int        `json:"max_depth"`
	Roots     []NodeView `json:"roots"`
}

// Snapshot renders the trie into its JSON projection. The walk takes no
// locks; concurrent growth may or may not be included.
func (t *Trie) Snapshot() TrieView {
	roots := t.Roots()
	views := make([]NodeView, 0, len(roots))
	for _, r := range roots {
		views = append(views, snapshotNode(r))
	}
	sortViews(views)
	return TrieView{
		NodeCount: t.NodeCount(),
		RootCount: t.RootCount(),
		MaxNodes:  t.MaxNodes(),
		MaxDepth:  t.MaxDepth(),
		Roots:     views,
	}
}

func snapshotNode(n *Node) NodeView {
	children := n.Children()
	views := make([]NodeView, 0, len(children))
	for _, c := range children {
		views = append(views, snapshotNode(c))
	}
	sortViews(views)
	return NodeView{
		Signature:  n.Signature(),
		Bucket:     n.Bucket(),
		Traversals: n.Traversals(),
		Clean:      n.CleanCount(),
		Leaks:      n.LeakCount(),
		Children:   views,
	}
}

// sortViews orders siblings leak-heaviest first so leak origins surface at
// the top of every level, with signature/bucket as the tie-breaker.
func sortViews(views []NodeView) {
	sort.Slice(views, func(i, j int) bool {
		if views[i].Leaks != views[j].Leaks {
			return views[i].Leaks > views[j].Leaks
		}
		if views[i].Signature != views[j].Signature {
			return views[i].Signature < views[j].Signature
		}
		return views[i].Bucket < views[j].Bucket
	})
}

// RenderText pretty-prints the trie for human inspection.
func (t *Trie) RenderText() string {
	view := t.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "imprint trie: %d nodes, %d roots (max_nodes=%d, max_depth=%d)\n",
		view.NodeCount, view.RootCount, view.MaxNodes, view.MaxDepth)
	for _, r := range view.Roots {
		renderNodeText(&b, r, 0)
	}
	return b.String()
}

func renderNodeText(b *strings.Builder, v NodeView, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	fmt.Fprintf(b, "%s [b%d] traversals=%d clean=%d leaks=%d\n",
		v.Signature, v.Bucket, v.Traversals, v.Clean, v.Leaks)
	for _, c := range v.Children {
		renderNodeText(b, c, depth+1)
	}
}
