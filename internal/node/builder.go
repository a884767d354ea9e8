package node

// Constructors for building trees in code. Parser adapters and tests use
// them; the returned nodes are unattached until passed to NewTree.

func newNode(k Kind, children []*Node) *Node {
	kids := make([]*Node, 0, len(children))
	for _, c := range children {
		if c != nil {
			kids = append(kids, c)
		}
	}
	return &Node{Kind: k, children: kids}
}

// Module builds the root node.
func Module(body ...*Node) *Node { return newNode(KindModule, body) }

// Func builds a FunctionDef.
func Func(name string, params []string, body ...*Node) *Node {
	n := newNode(KindFunctionDef, body)
	n.Name = name
	n.Params = params
	return n
}

// Call builds a Call to a dotted callee name.
func Call(callee string, args ...*Node) *Node {
	n := newNode(KindCall, args)
	n.Callee = callee
	return n
}

// MethodCall builds a Call whose receiver is an arbitrary expression, such
// as the inner call of a().b(). A nil receiver degrades to Call.
func MethodCall(recv *Node, callee string, args ...*Node) *Node {
	if recv == nil {
		return Call(callee, args...)
	}
	n := newNode(KindCall, append([]*Node{recv}, args...))
	n.Callee = callee
	n.HasRecv = true
	return n
}

// BinOp builds a BinaryOp.
func BinOp(op string, left, right *Node) *Node {
	n := newNode(KindBinaryOp, []*Node{left, right})
	n.Op = op
	return n
}

// Compare builds a Compare over two or more operands.
func Compare(op string, operands ...*Node) *Node {
	n := newNode(KindCompare, operands)
	n.Op = op
	return n
}

// Assign builds an Assign. value may be nil for declarations without an
// initializer.
func Assign(target, value *Node) *Node {
	return newNode(KindAssign, []*Node{target, value})
}

// AugAssign builds an augmented assignment such as x += y.
func AugAssign(op string, target, value *Node) *Node {
	n := newNode(KindAugAssign, []*Node{target, value})
	n.Op = op
	return n
}

// Loop builds a Loop over iter (or guarded by a condition) binding vars.
func Loop(vars []string, iter *Node, body ...*Node) *Node {
	n := newNode(KindLoop, append([]*Node{iter}, body...))
	n.Vars = vars
	return n
}

// If builds an If.
func If(cond *Node, body ...*Node) *Node {
	return newNode(KindIf, append([]*Node{cond}, body...))
}

// Try builds a TryExcept catching the named handler types.
func Try(handlers []string, body ...*Node) *Node {
	n := newNode(KindTryExcept, body)
	n.Handlers = handlers
	return n
}

// Return builds a Return; value may be nil.
func Return(value *Node) *Node { return newNode(KindReturn, []*Node{value}) }

// Ident builds an Identifier with a possibly dotted name.
func Ident(name string) *Node {
	return &Node{Kind: KindIdentifier, Name: name}
}

// Str builds a string Literal.
func Str(v string) *Node { return lit(LitString, v) }

// Num builds a number Literal.
func Num(v string) *Node { return lit(LitNumber, v) }

// Bool builds a bool Literal.
func Bool(v bool) *Node {
	if v {
		return lit(LitBool, "true")
	}
	return lit(LitBool, "false")
}

// None builds a null Literal.
func None() *Node { return lit(LitNone, "") }

func lit(t LitType, v string) *Node {
	return &Node{Kind: KindLiteral, LitType: t, Value: v}
}

// At sets a single-position span and returns n for chaining.
func (n *Node) At(line, col int) *Node {
	n.Span = At(line, col)
	return n
}

// Between sets a range span and returns n for chaining.
func (n *Node) Between(startLine, startCol, endLine, endCol int) *Node {
	n.Span = Range(startLine, startCol, endLine, endCol)
	return n
}
