package parse

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/vigil/internal/node"
)

// handler lowers one concrete node into zero or more model nodes. Node
// types without a handler are flattened: their named children are lowered
// in place.
type handler func(l *lowerer, n *sitter.Node) []*node.Node

type lowerer struct {
	src      []byte
	handlers map[string]handler
}

func (l *lowerer) lower(n *sitter.Node) []*node.Node {
	if n == nil {
		return nil
	}
	if h, ok := l.handlers[n.Type()]; ok {
		return h(l, n)
	}
	return l.children(n)
}

func (l *lowerer) children(n *sitter.Node) []*node.Node {
	var out []*node.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, l.lower(n.NamedChild(i))...)
	}
	return out
}

func containsNode(list []*sitter.Node, n *sitter.Node) bool {
	for _, s := range list {
		if s != nil && n != nil && s.StartByte() == n.StartByte() && s.EndByte() == n.EndByte() && s.Type() == n.Type() {
			return true
		}
	}
	return false
}

// expr lowers n to a single expression node. Several results are joined
// with a "," BinaryOp so operand positions stay single-valued.
func (l *lowerer) expr(n *sitter.Node) *node.Node {
	parts := l.lower(n)
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	}
	return l.at(fold(",", parts), n)
}

func fold(op string, parts []*node.Node) *node.Node {
	acc := parts[0]
	for _, p := range parts[1:] {
		acc = node.BinOp(op, acc, p)
	}
	return acc
}

func (l *lowerer) at(nd *node.Node, n *sitter.Node) *node.Node {
	if nd == nil || n == nil {
		return nd
	}
	s, e := n.StartPoint(), n.EndPoint()
	nd.Span = node.Range(int(s.Row)+1, int(s.Column)+1, int(e.Row)+1, int(e.Column))
	if nd.Span.End.Before(nd.Span.Start) {
		nd.Span.End = nd.Span.Start
	}
	return nd
}

func (l *lowerer) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(l.src)
}

// op returns the operator token of n, from its "operator" field or the
// first anonymous child.
func (l *lowerer) op(n *sitter.Node) string {
	if o := n.ChildByFieldName("operator"); o != nil {
		return o.Type()
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if !c.IsNamed() {
			return c.Type()
		}
	}
	return ""
}

// nameOf renders identifier and member-access chains as a dotted name.
func (l *lowerer) nameOf(n *sitter.Node) (string, bool) {
	if n == nil {
		return "", false
	}
	switch n.Type() {
	case "identifier", "property_identifier", "field_identifier", "package_identifier",
		"type_identifier", "shorthand_property_identifier", "this", "super", "self", "crate":
		return l.text(n), true
	case "attribute":
		return l.dotted(n, "object", "attribute")
	case "member_expression":
		return l.dotted(n, "object", "property")
	case "selector_expression":
		return l.dotted(n, "operand", "field")
	case "field_access":
		return l.dotted(n, "object", "field")
	case "field_expression":
		// Rust names the object "value", C names it "argument".
		if n.ChildByFieldName("value") != nil {
			return l.dotted(n, "value", "field")
		}
		return l.dotted(n, "argument", "field")
	case "scoped_identifier":
		if n.ChildByFieldName("path") == nil {
			return l.text(n.ChildByFieldName("name")), true
		}
		return l.dotted(n, "path", "name")
	case "generic_function":
		return l.nameOf(n.ChildByFieldName("function"))
	case "parenthesized_expression":
		if n.NamedChildCount() == 1 {
			return l.nameOf(n.NamedChild(0))
		}
	}
	return "", false
}

func (l *lowerer) dotted(n *sitter.Node, objField, attrField string) (string, bool) {
	obj, ok := l.nameOf(n.ChildByFieldName(objField))
	if !ok {
		return "", false
	}
	attr := l.text(n.ChildByFieldName(attrField))
	if attr == "" {
		return obj, true
	}
	return obj + "." + attr, true
}

// receiverText renders a non-name receiver for use inside a callee string,
// e.g. the inner call of a().b() becomes "a()".
func (l *lowerer) receiverText(recv *node.Node) string {
	switch {
	case recv == nil:
		return "_"
	case recv.Kind == node.KindCall:
		return recv.Callee + "()"
	case recv.Kind == node.KindIdentifier:
		return recv.Name
	case recv.IsStringLiteral():
		return `""`
	default:
		return "_"
	}
}

// memberParts splits a member access node into its object and attribute.
func memberParts(n *sitter.Node) (obj, attr *sitter.Node, ok bool) {
	switch n.Type() {
	case "attribute":
		return n.ChildByFieldName("object"), n.ChildByFieldName("attribute"), true
	case "member_expression":
		return n.ChildByFieldName("object"), n.ChildByFieldName("property"), true
	case "selector_expression":
		return n.ChildByFieldName("operand"), n.ChildByFieldName("field"), true
	case "field_access":
		return n.ChildByFieldName("object"), n.ChildByFieldName("field"), true
	case "field_expression":
		if v := n.ChildByFieldName("value"); v != nil {
			return v, n.ChildByFieldName("field"), true
		}
		return n.ChildByFieldName("argument"), n.ChildByFieldName("field"), true
	}
	return nil, nil, false
}

// ---------------------------------------------------------------------------
// Shared handlers
// ---------------------------------------------------------------------------

func drop(*lowerer, *sitter.Node) []*node.Node { return nil }

func lowerIdent(l *lowerer, n *sitter.Node) []*node.Node {
	return []*node.Node{l.at(node.Ident(l.text(n)), n)}
}

func lowerNumber(l *lowerer, n *sitter.Node) []*node.Node {
	return []*node.Node{l.at(node.Num(l.text(n)), n)}
}

func lowerBool(l *lowerer, n *sitter.Node) []*node.Node {
	v := strings.EqualFold(l.text(n), "true")
	return []*node.Node{l.at(node.Bool(v), n)}
}

func lowerNone(l *lowerer, n *sitter.Node) []*node.Node {
	return []*node.Node{l.at(node.None(), n)}
}

// lowerMember lowers an attribute access that is not being called.
func lowerMember(l *lowerer, n *sitter.Node) []*node.Node {
	if name, ok := l.nameOf(n); ok {
		return []*node.Node{l.at(node.Ident(name), n)}
	}
	obj, _, _ := memberParts(n)
	return l.lower(obj)
}

// lowerCall lowers call-shaped nodes with the given callee and argument
// fields.
func lowerCall(funcField, argsField string) handler {
	return func(l *lowerer, n *sitter.Node) []*node.Node {
		fn := n.ChildByFieldName(funcField)
		args := l.lower(n.ChildByFieldName(argsField))
		if name, ok := l.nameOf(fn); ok {
			return []*node.Node{l.at(node.Call(name, args...), n)}
		}
		if fn != nil {
			if obj, attr, ok := memberParts(fn); ok {
				recv := l.expr(obj)
				callee := l.receiverText(recv) + "." + l.text(attr)
				return []*node.Node{l.at(node.MethodCall(recv, callee, args...), n)}
			}
		}
		// Calling an arbitrary expression (an IIFE, an indexed function):
		// keep the expression as the receiver.
		recv := l.expr(fn)
		if recv == nil {
			return []*node.Node{l.at(node.Call(l.text(fn), args...), n)}
		}
		return []*node.Node{l.at(node.MethodCall(recv, l.receiverText(recv), args...), n)}
	}
}

var comparisonOps = map[string]bool{
	"==": true, "!=": true, "===": true, "!==": true,
	"<": true, ">": true, "<=": true, ">=": true, "<>": true,
	"in": true, "not in": true, "is": true, "is not": true,
}

// lowerBinary lowers a two-operand expression, producing Compare for
// comparison operators and BinaryOp otherwise.
func lowerBinary(l *lowerer, n *sitter.Node) []*node.Node {
	op := l.op(n)
	left := l.expr(n.ChildByFieldName("left"))
	right := l.expr(n.ChildByFieldName("right"))
	if comparisonOps[op] {
		return []*node.Node{l.at(node.Compare(op, left, right), n)}
	}
	return []*node.Node{l.at(node.BinOp(op, left, right), n)}
}

func lowerSubscript(objField, indexField string) handler {
	return func(l *lowerer, n *sitter.Node) []*node.Node {
		obj := l.expr(n.ChildByFieldName(objField))
		idx := l.expr(n.ChildByFieldName(indexField))
		if obj == nil || idx == nil {
			return l.children(n)
		}
		return []*node.Node{l.at(node.BinOp("[]", obj, idx), n)}
	}
}

func lowerReturn(l *lowerer, n *sitter.Node) []*node.Node {
	var value *node.Node
	if n.NamedChildCount() > 0 {
		parts := l.children(n)
		if len(parts) > 0 {
			value = fold(",", parts)
		}
	}
	return []*node.Node{l.at(node.Return(value), n)}
}

func lowerAugAssign(l *lowerer, n *sitter.Node) []*node.Node {
	op := l.op(n)
	target := l.target(n.ChildByFieldName("left"))
	value := l.expr(n.ChildByFieldName("right"))
	return []*node.Node{l.at(node.AugAssign(op, target, value), n)}
}

// lowerAssignExpr lowers an assignment expression whose operator token is
// either "=" or a compound operator such as "+=".
func lowerAssignExpr(l *lowerer, n *sitter.Node) []*node.Node {
	if op := l.op(n); op != "=" && op != "" {
		return lowerAugAssign(l, n)
	}
	return l.assignments(n, []*sitter.Node{n.ChildByFieldName("left")}, l.lower(n.ChildByFieldName("right")))
}

// lowerForClause lowers a C-style three clause loop. The initializer is
// emitted before the loop and names it assigns become the loop variables;
// the update is appended to the body.
func lowerForClause(initField string) handler {
	return func(l *lowerer, n *sitter.Node) []*node.Node {
		pre := l.lower(n.ChildByFieldName(initField))
		var vars []string
		for _, p := range pre {
			if p.Kind == node.KindAssign && p.Target() != nil && p.Target().Kind == node.KindIdentifier {
				vars = append(vars, p.Target().Name)
			}
		}
		cond := l.expr(n.ChildByFieldName("condition"))
		if cond == nil {
			cond = l.at(node.Bool(true), n)
		}
		body := l.lower(n.ChildByFieldName("body"))
		body = append(body, l.lower(n.ChildByFieldName("update"))...)
		return append(pre, l.at(node.Loop(vars, cond, body...), n))
	}
}

// lowerWhile lowers a loop with only a condition and a body.
func lowerWhile(l *lowerer, n *sitter.Node) []*node.Node {
	cond := l.expr(n.ChildByFieldName("condition"))
	if cond == nil {
		cond = l.at(node.Bool(true), n)
	}
	body := l.lower(n.ChildByFieldName("body"))
	return []*node.Node{l.at(node.Loop(nil, cond, body...), n)}
}

// lowerIfElse lowers an if statement with consequence and alternative
// fields. Both branches become the body of one If.
func lowerIfElse(l *lowerer, n *sitter.Node) []*node.Node {
	cond := l.expr(n.ChildByFieldName("condition"))
	if cond == nil {
		cond = l.at(node.Bool(true), n)
	}
	body := l.lower(n.ChildByFieldName("consequence"))
	body = append(body, l.lower(n.ChildByFieldName("alternative"))...)
	return []*node.Node{l.at(node.If(cond, body...), n)}
}

// lowerIncDec lowers x++ and x-- as x += 1 and x -= 1.
func lowerIncDec(l *lowerer, n *sitter.Node) []*node.Node {
	op := "+="
	if strings.Contains(l.text(n), "--") {
		op = "-="
	}
	var operand *sitter.Node
	if a := n.ChildByFieldName("argument"); a != nil {
		operand = a
	} else if n.NamedChildCount() > 0 {
		operand = n.NamedChild(0)
	}
	one := l.at(node.Num("1"), n)
	return []*node.Node{l.at(node.AugAssign(op, l.target(operand), one), n)}
}

// target lowers an assignment target. Names become Identifiers; anything
// else (subscripts, destructuring) is lowered as an expression.
func (l *lowerer) target(n *sitter.Node) *node.Node {
	if n == nil {
		return nil
	}
	if name, ok := l.nameOf(n); ok {
		return l.at(node.Ident(name), n)
	}
	return l.expr(n)
}

// assignments builds one Assign per target. The first target carries the
// values; the rest are bound without a value.
func (l *lowerer) assignments(n *sitter.Node, targets []*sitter.Node, values []*node.Node) []*node.Node {
	if len(targets) == 0 {
		return values
	}
	var out []*node.Node
	for i, t := range targets {
		tn := l.target(t)
		if tn == nil {
			continue
		}
		a := node.Assign(tn, nil)
		if i == 0 {
			a = newAssign(tn, values)
		}
		out = append(out, l.at(a, n))
	}
	return out
}

func newAssign(target *node.Node, values []*node.Node) *node.Node {
	switch len(values) {
	case 0:
		return node.Assign(target, nil)
	case 1:
		return node.Assign(target, values[0])
	}
	return node.Assign(target, fold(",", values))
}

// namesIn collects identifier names bound by a pattern node, skipping the
// blank identifier.
func (l *lowerer) namesIn(n *sitter.Node) []string {
	if n == nil {
		return nil
	}
	var out []string
	var walk func(*sitter.Node)
	walk = func(c *sitter.Node) {
		switch c.Type() {
		case "identifier", "shorthand_property_identifier_pattern":
			if name := l.text(c); name != "_" {
				out = append(out, name)
			}
			return
		}
		for i := 0; i < int(c.NamedChildCount()); i++ {
			walk(c.NamedChild(i))
		}
	}
	walk(n)
	return out
}

// namedChildren returns the named children of n, skipping comments.
func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "comment" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// unquote strips string prefixes and quotes from a literal's source text.
func unquote(s string) string {
	s = strings.TrimLeft(s, "rRbBuUfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`, "`"} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			return s[len(q) : len(s)-len(q)]
		}
	}
	return s
}

// lowerString lowers a string literal. Interpolated strings become a "+"
// chain of the static text and the interpolated expressions so that names
// used inside them stay visible.
func lowerString(interp string) handler {
	return func(l *lowerer, n *sitter.Node) []*node.Node {
		var exprs []*node.Node
		var static strings.Builder
		for i := 0; i < int(n.NamedChildCount()); i++ {
			c := n.NamedChild(i)
			switch c.Type() {
			case interp:
				exprs = append(exprs, l.children(c)...)
			case "string_content", "string_fragment":
				static.WriteString(l.text(c))
			}
		}
		if len(exprs) == 0 {
			return []*node.Node{l.at(node.Str(unquote(l.text(n))), n)}
		}
		lit := l.at(node.Str(static.String()), n)
		return []*node.Node{l.at(fold("+", append([]*node.Node{lit}, exprs...)), n)}
	}
}
