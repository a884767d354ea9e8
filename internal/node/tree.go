package node

import (
	"errors"
	"fmt"
)

// Tree is a normalized tree for one source file.
type Tree struct {
	File string
	Lang string
	Root *Node
	// Size is the number of nodes in the tree.
	Size int
}

var (
	errNotModule    = errors.New("root must be a Module")
	errSharedNode   = errors.New("node already has a parent")
	errNestedModule = errors.New("module nested below the root")
)

// NewTree links root's descendants to their parents, stamps every span with
// file, and fills in missing spans from children so that each parent span
// contains its children. The nodes are owned by the tree afterwards.
func NewTree(file, lang string, root *Node) (*Tree, error) {
	if root == nil || root.Kind != KindModule {
		return nil, errNotModule
	}
	if root.parent != nil {
		return nil, errSharedNode
	}
	size, err := link(root, file)
	if err != nil {
		return nil, err
	}
	inherit(root)
	return &Tree{File: file, Lang: lang, Root: root, Size: size}, nil
}

// MustTree is NewTree for trees built in code; it panics on malformed input.
func MustTree(file string, root *Node) *Tree {
	t, err := NewTree(file, "", root)
	if err != nil {
		panic(err)
	}
	return t
}

func link(n *Node, file string) (int, error) {
	size := 1
	for i, c := range n.children {
		if c == nil {
			return 0, fmt.Errorf("%s: nil child at index %d", n, i)
		}
		if c.parent != nil {
			return 0, fmt.Errorf("%s: %w", c, errSharedNode)
		}
		if c.Kind == KindModule {
			return 0, errNestedModule
		}
		c.parent = n
		c.index = i
		cs, err := link(c, file)
		if err != nil {
			return 0, err
		}
		size += cs
		n.Span = n.Span.Union(c.Span)
	}
	n.Span.File = file
	return size, nil
}

// inherit gives nodes built without positions their parent's span.
func inherit(n *Node) {
	for _, c := range n.children {
		if c.Span.IsZero() {
			c.Span = Span{File: n.Span.File, Start: n.Span.Start, End: n.Span.End}
		}
		inherit(c)
	}
}

// Validate checks the structural invariants of a tree: single parent per
// node, no cycles, and span containment.
func (t *Tree) Validate() error {
	seen := make(map[*Node]bool, t.Size)
	var check func(n, parent *Node) error
	check = func(n, parent *Node) error {
		if seen[n] {
			return fmt.Errorf("%s: node reachable twice", n)
		}
		seen[n] = true
		if n.parent != parent {
			return fmt.Errorf("%s: parent link mismatch", n)
		}
		if parent != nil && !parent.Span.Contains(n.Span) {
			return fmt.Errorf("%s: span not contained in parent %s", n, parent)
		}
		for _, c := range n.children {
			if err := check(c, n); err != nil {
				return err
			}
		}
		return nil
	}
	return check(t.Root, nil)
}
