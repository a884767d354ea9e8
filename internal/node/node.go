// Package node defines the normalized, language-agnostic syntax tree that the
// detection engine reads. Parser adapters lower their concrete trees into this
// model; everything downstream only navigates it.
package node

import "fmt"

// Kind discriminates the closed set of node shapes. Rules switch over Kind
// exhaustively, so adding a kind means revisiting every rule.
type Kind uint8

const (
	KindModule Kind = iota
	KindFunctionDef
	KindCall
	KindBinaryOp
	KindCompare
	KindAssign
	KindAugAssign
	KindLoop
	KindIf
	KindTryExcept
	KindLiteral
	KindIdentifier
	KindReturn

	// NumKinds is the number of defined kinds. It is not a valid Kind.
	NumKinds
)

var kindNames = [NumKinds]string{
	KindModule:      "Module",
	KindFunctionDef: "FunctionDef",
	KindCall:        "Call",
	KindBinaryOp:    "BinaryOp",
	KindCompare:     "Compare",
	KindAssign:      "Assign",
	KindAugAssign:   "AugAssign",
	KindLoop:        "Loop",
	KindIf:          "If",
	KindTryExcept:   "TryExcept",
	KindLiteral:     "Literal",
	KindIdentifier:  "Identifier",
	KindReturn:      "Return",
}

func (k Kind) String() string {
	if k < NumKinds {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind maps a kind name (as written in rule metadata) back to a Kind.
func ParseKind(s string) (Kind, error) {
	for k := Kind(0); k < NumKinds; k++ {
		if kindNames[k] == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

// LitType is the value class of a Literal node.
type LitType uint8

const (
	LitString LitType = iota
	LitNumber
	LitBool
	LitNone
)

func (t LitType) String() string {
	switch t {
	case LitString:
		return "string"
	case LitNumber:
		return "number"
	case LitBool:
		return "bool"
	case LitNone:
		return "none"
	default:
		return "unknown"
	}
}

// Node is one element of the normalized tree. Kind-specific attributes are
// plain fields; only the ones relevant to Kind are populated.
//
// Child layout per kind:
//
//	Module, FunctionDef   body statements
//	Call                  [receiver] args...   (receiver present when HasRecv)
//	BinaryOp, AugAssign   left, right
//	Compare               operands... (two, or more for chained comparisons)
//	Assign                target [, value...]
//	Loop                  iterable-or-condition, body...
//	If                    condition, body...
//	TryExcept             body and handler statements
//	Return                [value]
//	Literal, Identifier   none
type Node struct {
	Kind Kind
	Span Span

	// Name is the function name (FunctionDef) or the dotted identifier
	// (Identifier, e.g. "user.hash").
	Name string
	// Callee is the dotted name of the called function (Call).
	Callee string
	// HasRecv reports that the first child of a Call is a non-trivial
	// receiver expression (e.g. the inner call of a().b()).
	HasRecv bool
	// Op is the operator token (BinaryOp, Compare, AugAssign).
	Op string
	// Value is the literal text with quotes removed (Literal).
	Value   string
	LitType LitType
	// Params are parameter names (FunctionDef).
	Params []string
	// Decorators are decorator or annotation names (FunctionDef).
	Decorators []string
	// Vars are iteration variable names (Loop).
	Vars []string
	// Handlers are caught exception type names (TryExcept).
	Handlers []string

	parent   *Node
	children []*Node
	index    int
}

// Parent returns the enclosing node, or nil for the root.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the ordered children. The slice must not be modified.
func (n *Node) Children() []*Node { return n.children }

// NumChildren returns the number of children.
func (n *Node) NumChildren() int { return len(n.children) }

// Child returns the i-th child or nil when out of range.
func (n *Node) Child(i int) *Node {
	if i < 0 || i >= len(n.children) {
		return nil
	}
	return n.children[i]
}

// NextSibling returns the following sibling or nil.
func (n *Node) NextSibling() *Node {
	if n.parent == nil {
		return nil
	}
	return n.parent.Child(n.index + 1)
}

// PrevSibling returns the preceding sibling or nil.
func (n *Node) PrevSibling() *Node {
	if n.parent == nil {
		return nil
	}
	return n.parent.Child(n.index - 1)
}

// Enclosing returns the nearest strict ancestor of the given kind.
func (n *Node) Enclosing(k Kind) *Node {
	for p := n.parent; p != nil; p = p.parent {
		if p.Kind == k {
			return p
		}
	}
	return nil
}

// Ancestors calls fn for each strict ancestor, innermost first, until fn
// returns false.
func (n *Node) Ancestors(fn func(*Node) bool) {
	for p := n.parent; p != nil; p = p.parent {
		if !fn(p) {
			return
		}
	}
}

// IsAncestorOf reports whether n strictly encloses other.
func (n *Node) IsAncestorOf(other *Node) bool {
	for p := other.parent; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

// Args returns the argument nodes of a Call.
func (n *Node) Args() []*Node {
	if n.Kind != KindCall {
		return nil
	}
	if n.HasRecv && len(n.children) > 0 {
		return n.children[1:]
	}
	return n.children
}

// Receiver returns the receiver expression of a Call, if any.
func (n *Node) Receiver() *Node {
	if n.Kind == KindCall && n.HasRecv {
		return n.Child(0)
	}
	return nil
}

// Left returns the first operand of a binary-shaped node.
func (n *Node) Left() *Node { return n.Child(0) }

// Right returns the second operand of a binary-shaped node.
func (n *Node) Right() *Node { return n.Child(1) }

// Target returns the assigned-to node of an Assign or AugAssign.
func (n *Node) Target() *Node {
	if n.Kind != KindAssign && n.Kind != KindAugAssign {
		return nil
	}
	return n.Child(0)
}

// AssignedValue returns the right-hand side of an Assign or AugAssign when it
// lowered to exactly one node.
func (n *Node) AssignedValue() *Node {
	if (n.Kind != KindAssign && n.Kind != KindAugAssign) || len(n.children) != 2 {
		return nil
	}
	return n.children[1]
}

// Cond returns the condition of an If or the iterable/condition of a Loop.
func (n *Node) Cond() *Node {
	if n.Kind != KindIf && n.Kind != KindLoop {
		return nil
	}
	return n.Child(0)
}

// Body returns the statement children of block-shaped nodes.
func (n *Node) Body() []*Node {
	switch n.Kind {
	case KindModule, KindFunctionDef, KindTryExcept:
		return n.children
	case KindLoop, KindIf:
		if len(n.children) == 0 {
			return nil
		}
		return n.children[1:]
	default:
		return nil
	}
}

// IsStringLiteral reports whether n is a string Literal.
func (n *Node) IsStringLiteral() bool {
	return n != nil && n.Kind == KindLiteral && n.LitType == LitString
}

// Walk visits n and its descendants in pre-order. Returning false from fn
// skips the node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, c := range n.children {
		c.Walk(fn)
	}
}

// PostOrder visits the descendants of n before n itself.
func (n *Node) PostOrder(fn func(*Node)) {
	for _, c := range n.children {
		c.PostOrder(fn)
	}
	fn(n)
}

// Label is a short human-readable description used in messages.
func (n *Node) Label() string {
	switch n.Kind {
	case KindFunctionDef, KindIdentifier:
		return n.Name
	case KindCall:
		return n.Callee + "()"
	case KindLiteral:
		return n.LitType.String() + " literal"
	case KindCompare, KindBinaryOp, KindAugAssign:
		return n.Op
	default:
		return n.Kind.String()
	}
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%s)@%s", n.Kind, n.Label(), n.Span)
}
