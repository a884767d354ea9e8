package facts

import "github.com/chris-regnier/vigil/internal/node"

// Scope is a module or function body during one audit pass.
type Scope struct {
	// Node is the Module or FunctionDef that owns the scope.
	Node   *node.Node
	Parent *Scope
	// Depth is 0 for the module scope and grows with function nesting.
	Depth int
	// Symbols maps a name to the node that first declared it: an Assign,
	// a Loop binding it, or the FunctionDef for parameters and nested
	// function names.
	Symbols map[string]*node.Node

	calls   []*node.Node
	strs    map[string]*node.Node
	guarded bool

	// containers records, per name, whether its latest binding constructs
	// an in-memory map.
	containers map[string]bool
}

func newScope(n *node.Node, parent *Scope) *Scope {
	s := &Scope{
		Node:    n,
		Parent:  parent,
		Symbols: make(map[string]*node.Node),
		strs:    make(map[string]*node.Node),

		containers: make(map[string]bool),
	}
	if parent != nil {
		s.Depth = parent.Depth + 1
	}
	return s
}

// IsFunction reports whether the scope is a function body.
func (s *Scope) IsFunction() bool { return s.Node.Kind == node.KindFunctionDef }

// Name is the function name, or empty for the module scope.
func (s *Scope) Name() string {
	if s.IsFunction() {
		return s.Node.Name
	}
	return ""
}

// Lookup resolves name through the scope chain.
func (s *Scope) Lookup(name string) (*node.Node, bool) {
	for sc := s; sc != nil; sc = sc.Parent {
		if d, ok := sc.Symbols[name]; ok {
			return d, true
		}
	}
	return nil, false
}

func (s *Scope) declare(name string, decl *node.Node) {
	if name == "" {
		return
	}
	if _, ok := s.Symbols[name]; !ok {
		s.Symbols[name] = decl
	}
}

// isContainer reports whether name is bound to an in-memory map in the
// nearest scope that assigns it.
func (s *Scope) isContainer(name string) bool {
	for sc := s; sc != nil; sc = sc.Parent {
		if c, ok := sc.containers[name]; ok {
			return c
		}
	}
	return false
}
