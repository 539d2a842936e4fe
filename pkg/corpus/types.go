// ABOUTME: Document corpus data model for the hierarchical menu tree
// ABOUTME: Defines Node and the derived flat search index entry

package corpus

import (
	"sort"
	"strings"
)

// Metadata keys recognized inside a corpus JSON object. Any other key
// starting with "_" is ignored.
const (
	keyDescription      = "_description"
	keyDescriptionAlias = "_описание"
	keyGated            = "_gated"
)

// Node is a section of the document corpus. An interior node maps child
// keys to further nodes; a leaf carries an opaque content reference
// (typically a document path or URL). Nodes are immutable after load and
// shared read-only across all sessions.
type Node struct {
	Children    map[string]*Node
	Description string
	Gated       bool   // requires an entitlement beyond plain authorization
	Content     string // leaf content reference, empty for interior nodes
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// VisibleKeys returns the child keys in sorted order.
func (n *Node) VisibleKeys() []string {
	keys := make([]string, 0, len(n.Children))
	for k := range n.Children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Child resolves a child by case-insensitive key match and returns the
// canonical key as spelled in the corpus.
func (n *Node) Child(key string) (string, *Node, bool) {
	if c, ok := n.Children[key]; ok {
		return key, c, true
	}
	lower := strings.ToLower(key)
	for k, c := range n.Children {
		if strings.ToLower(k) == lower {
			return k, c, true
		}
	}
	return "", nil, false
}

// Tree is the loaded corpus: the root node plus the flat index derived
// from it at load time.
type Tree struct {
	Root  *Node
	Index []FlatEntry
}

// NodeAt walks the tree along path and returns the node it ends at.
func (t *Tree) NodeAt(path []string) (*Node, bool) {
	node := t.Root
	for _, key := range path {
		child, ok := node.Children[key]
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

// FlatEntry is one searchable record of the flattened corpus.
type FlatEntry struct {
	Path     []string // ordered keys from the root
	Category string   // path segments joined for display and matching
	Text     string   // leaf content or node description
}
