package parse

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/vigil/internal/node"
)

func pythonHandlers() map[string]handler {
	return map[string]handler{
		"comment":                 drop,
		"import_statement":        drop,
		"import_from_statement":   drop,
		"future_import_statement": drop,
		"pass_statement":          drop,
		"break_statement":         drop,
		"continue_statement":      drop,
		"global_statement":        drop,
		"nonlocal_statement":      drop,
		"type":                    drop,

		"identifier": lowerIdent,
		"attribute":  lowerMember,
		"integer":    lowerNumber,
		"float":      lowerNumber,
		"true":       lowerBool,
		"false":      lowerBool,
		"none":       lowerNone,
		"string":     lowerString("interpolation"),
		"concatenated_string": func(l *lowerer, n *sitter.Node) []*node.Node {
			parts := l.children(n)
			if len(parts) == 0 {
				return nil
			}
			return []*node.Node{l.at(fold("+", parts), n)}
		},

		"function_definition":  pyFunction,
		"decorated_definition": pyDecorated,
		"lambda":               pyLambda,
		"call":                 lowerCall("function", "arguments"),
		"keyword_argument": func(l *lowerer, n *sitter.Node) []*node.Node {
			return l.lower(n.ChildByFieldName("value"))
		},
		"binary_operator":     lowerBinary,
		"boolean_operator":    lowerBinary,
		"comparison_operator": pyComparison,
		"subscript":           lowerSubscript("value", "subscript"),
		"dictionary": func(l *lowerer, n *sitter.Node) []*node.Node {
			return []*node.Node{l.at(node.Call("dict", l.children(n)...), n)}
		},

		"assignment":           pyAssignment,
		"augmented_assignment": lowerAugAssign,
		"return_statement":     lowerReturn,

		"for_statement":   pyFor,
		"while_statement": pyWhile,
		"if_statement":    pyIf,
		"try_statement":   pyTry,

		"list_comprehension":       pyComprehension,
		"set_comprehension":        pyComprehension,
		"dictionary_comprehension": pyComprehension,
		"generator_expression":     pyComprehension,
	}
}

func pyParams(l *lowerer, params *sitter.Node) []string {
	var out []string
	for _, p := range namedChildren(params) {
		switch p.Type() {
		case "identifier":
			out = append(out, l.text(p))
		case "default_parameter", "typed_default_parameter":
			out = append(out, l.text(p.ChildByFieldName("name")))
		default:
			// typed_parameter, *args, **kwargs: the first identifier is the name
			if names := l.namesIn(p); len(names) > 0 {
				out = append(out, names[0])
			}
		}
	}
	return out
}

func pyFunction(l *lowerer, n *sitter.Node) []*node.Node {
	name := l.text(n.ChildByFieldName("name"))
	params := pyParams(l, n.ChildByFieldName("parameters"))
	body := l.lower(n.ChildByFieldName("body"))
	return []*node.Node{l.at(node.Func(name, params, body...), n)}
}

func pyLambda(l *lowerer, n *sitter.Node) []*node.Node {
	params := pyParams(l, n.ChildByFieldName("parameters"))
	body := l.lower(n.ChildByFieldName("body"))
	return []*node.Node{l.at(node.Func("<lambda>", params, body...), n)}
}

// pyDecorated records decorator names on the wrapped function. Class
// decorators are lowered as plain expressions.
func pyDecorated(l *lowerer, n *sitter.Node) []*node.Node {
	def := n.ChildByFieldName("definition")
	out := l.lower(def)
	var names []string
	var rest []*node.Node
	for _, c := range namedChildren(n) {
		if c.Type() != "decorator" {
			continue
		}
		expr := c.NamedChild(0)
		if expr != nil && expr.Type() == "call" {
			if name, ok := l.nameOf(expr.ChildByFieldName("function")); ok {
				names = append(names, name)
				rest = append(rest, l.lower(expr.ChildByFieldName("arguments"))...)
				continue
			}
		}
		if name, ok := l.nameOf(expr); ok {
			names = append(names, name)
			continue
		}
		rest = append(rest, l.lower(expr)...)
	}
	if len(out) == 1 && out[0].Kind == node.KindFunctionDef {
		out[0].Decorators = names
		l.at(out[0], n)
	}
	return append(rest, out...)
}

// pyComparison lowers chained comparisons to one Compare carrying every
// operand, with the first operator.
func pyComparison(l *lowerer, n *sitter.Node) []*node.Node {
	var operands []*node.Node
	for _, c := range namedChildren(n) {
		if e := l.expr(c); e != nil {
			operands = append(operands, e)
		}
	}
	return []*node.Node{l.at(node.Compare(l.op(n), operands...), n)}
}

func pyAssignment(l *lowerer, n *sitter.Node) []*node.Node {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	var values []*node.Node
	if right != nil {
		values = l.lower(right)
	}
	var targets []*sitter.Node
	switch left.Type() {
	case "pattern_list", "tuple_pattern", "list_pattern":
		targets = namedChildren(left)
	default:
		targets = []*sitter.Node{left}
	}
	return l.assignments(n, targets, values)
}

func pyFor(l *lowerer, n *sitter.Node) []*node.Node {
	vars := l.namesIn(n.ChildByFieldName("left"))
	iter := l.expr(n.ChildByFieldName("right"))
	if iter == nil {
		iter = l.at(node.None(), n)
	}
	body := l.lower(n.ChildByFieldName("body"))
	loop := l.at(node.Loop(vars, iter, body...), n)
	return append([]*node.Node{loop}, l.lower(n.ChildByFieldName("alternative"))...)
}

func pyWhile(l *lowerer, n *sitter.Node) []*node.Node {
	cond := l.expr(n.ChildByFieldName("condition"))
	if cond == nil {
		cond = l.at(node.Bool(true), n)
	}
	body := l.lower(n.ChildByFieldName("body"))
	loop := l.at(node.Loop(nil, cond, body...), n)
	return append([]*node.Node{loop}, l.lower(n.ChildByFieldName("alternative"))...)
}

// pyIf folds elif and else branches into the body of the If; elif
// conditions become nested If nodes.
func pyIf(l *lowerer, n *sitter.Node) []*node.Node {
	cond := l.expr(n.ChildByFieldName("condition"))
	if cond == nil {
		cond = l.at(node.Bool(true), n)
	}
	body := l.lower(n.ChildByFieldName("consequence"))
	cons := n.ChildByFieldName("consequence")
	condNode := n.ChildByFieldName("condition")
	for _, c := range namedChildren(n) {
		if containsNode([]*sitter.Node{cons, condNode}, c) {
			continue
		}
		switch c.Type() {
		case "elif_clause":
			ec := l.expr(c.ChildByFieldName("condition"))
			if ec == nil {
				ec = l.at(node.Bool(true), c)
			}
			body = append(body, l.at(node.If(ec, l.lower(c.ChildByFieldName("consequence"))...), c))
		case "else_clause":
			body = append(body, l.lower(c.ChildByFieldName("body"))...)
		}
	}
	return []*node.Node{l.at(node.If(cond, body...), n)}
}

func pyTry(l *lowerer, n *sitter.Node) []*node.Node {
	body := l.lower(n.ChildByFieldName("body"))
	var handlers []string
	for _, c := range namedChildren(n) {
		switch c.Type() {
		case "except_clause", "except_group_clause":
			for _, part := range namedChildren(c) {
				if part.Type() == "block" {
					body = append(body, l.lower(part)...)
					continue
				}
				handlers = append(handlers, pyHandlerNames(l, part)...)
			}
		case "else_clause", "finally_clause":
			body = append(body, l.children(c)...)
		}
	}
	return []*node.Node{l.at(node.Try(handlers, body...), n)}
}

// pyHandlerNames extracts exception type names from an except clause
// header: a name, a tuple of names, or "Name as alias".
func pyHandlerNames(l *lowerer, n *sitter.Node) []string {
	switch n.Type() {
	case "tuple", "parenthesized_expression":
		var out []string
		for _, c := range namedChildren(n) {
			out = append(out, pyHandlerNames(l, c)...)
		}
		return out
	case "as_pattern":
		if c := n.NamedChild(0); c != nil {
			return pyHandlerNames(l, c)
		}
		return nil
	}
	if name, ok := l.nameOf(n); ok {
		return []string{name}
	}
	return nil
}

// pyComprehension lowers a comprehension to a Loop binding the variables
// of every for clause. The first iterable is evaluated outside the loop.
func pyComprehension(l *lowerer, n *sitter.Node) []*node.Node {
	var vars []string
	var iter *node.Node
	var body []*node.Node
	for _, c := range namedChildren(n) {
		switch c.Type() {
		case "for_in_clause":
			vars = append(vars, l.namesIn(c.ChildByFieldName("left"))...)
			r := l.expr(c.ChildByFieldName("right"))
			if iter == nil {
				iter = r
			} else if r != nil {
				body = append(body, r)
			}
		case "if_clause":
			body = append(body, l.children(c)...)
		default:
			body = append(body, l.lower(c)...)
		}
	}
	if iter == nil {
		iter = l.at(node.None(), n)
	}
	return []*node.Node{l.at(node.Loop(vars, iter, body...), n)}
}
