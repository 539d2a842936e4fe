// ABOUTME: Navigation engine walking the corpus tree
// ABOUTME: Pure path manipulation; gated nodes deny entry without mutation

package nav

import (
	"errors"

	"github.com/mechdocs/docgate/pkg/corpus"
)

var (
	// ErrNotFound is returned when the requested key does not name a
	// child of the current node.
	ErrNotFound = errors.New("section not found")
	// ErrGated is returned when the resolved node requires an
	// entitlement the requesting user does not have. The path is not
	// mutated.
	ErrGated = errors.New("section requires an entitlement")
)

// View is what the caller renders after a navigation step.
type View struct {
	Description string
	Content     string   // leaf content reference
	Keys        []string // visible child keys of the current node
	Leaf        bool
	Root        bool
}

// Engine resolves navigation requests against the immutable corpus
// tree. It carries no per-user state; the session path is passed in and
// the updated path handed back.
type Engine struct {
	tree *corpus.Tree
}

// NewEngine creates a navigation engine over the loaded corpus.
func NewEngine(tree *corpus.Tree) *Engine {
	return &Engine{tree: tree}
}

// Enter resolves key (case-insensitive) as a child of the node at path.
// Interior nodes extend the path and return their menu view. Leaf nodes
// return their content without extending the path, so the caller keeps
// rendering the parent's menu. Gated nodes return ErrGated when the
// user is not entitled, leaving the path untouched.
func (e *Engine) Enter(path []string, key string, entitled bool) ([]string, *View, error) {
	node, ok := e.tree.NodeAt(path)
	if !ok {
		// Stale path, e.g. after a corpus reload. Treat as not found.
		return path, nil, ErrNotFound
	}

	canonical, child, ok := node.Child(key)
	if !ok {
		return path, nil, ErrNotFound
	}

	if child.Gated && !entitled {
		return path, nil, ErrGated
	}

	if child.IsLeaf() {
		content := child.Content
		if content == "" {
			content = child.Description
		}
		return path, &View{
			Description: child.Description,
			Content:     content,
			Leaf:        true,
			Root:        len(path) == 0,
		}, nil
	}

	newPath := append(append([]string(nil), path...), canonical)
	return newPath, e.viewOf(child, newPath), nil
}

// Back pops the last path element; at the root it is a no-op.
func (e *Engine) Back(path []string) ([]string, *View) {
	if len(path) > 0 {
		path = path[:len(path)-1]
	}
	return path, e.ViewAt(path)
}

// Home resets the path to the root.
func (e *Engine) Home() ([]string, *View) {
	return nil, e.ViewAt(nil)
}

// ViewAt renders the node at path; a stale path falls back to the root.
func (e *Engine) ViewAt(path []string) *View {
	node, ok := e.tree.NodeAt(path)
	if !ok {
		node = e.tree.Root
		path = nil
	}
	return e.viewOf(node, path)
}

func (e *Engine) viewOf(node *corpus.Node, path []string) *View {
	return &View{
		Description: node.Description,
		Keys:        node.VisibleKeys(),
		Leaf:        node.IsLeaf(),
		Root:        len(path) == 0,
	}
}
