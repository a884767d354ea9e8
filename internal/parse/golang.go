package parse

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/vigil/internal/node"
)

func goHandlers() map[string]handler {
	return map[string]handler{
		"comment":            drop,
		"package_clause":     drop,
		"import_declaration": drop,
		"type_declaration":   drop,
		"label_name":         drop,

		"identifier":                 lowerIdent,
		"selector_expression":        lowerMember,
		"int_literal":                lowerNumber,
		"float_literal":              lowerNumber,
		"imaginary_literal":          lowerNumber,
		"rune_literal":               lowerNumber,
		"iota":                       lowerNumber,
		"true":                       lowerBool,
		"false":                      lowerBool,
		"nil":                        lowerNone,
		"interpreted_string_literal": lowerString(""),
		"raw_string_literal":         lowerString(""),

		"function_declaration": goFunction,
		"method_declaration":   goFunction,
		"func_literal":         goFunction,
		"call_expression":      lowerCall("function", "arguments"),
		"binary_expression":    lowerBinary,
		"index_expression":     lowerSubscript("operand", "index"),
		"composite_literal": func(l *lowerer, n *sitter.Node) []*node.Node {
			return l.lower(n.ChildByFieldName("body"))
		},
		"type_assertion_expression": func(l *lowerer, n *sitter.Node) []*node.Node {
			return l.lower(n.ChildByFieldName("operand"))
		},

		"assignment_statement": goAssignment,
		"short_var_declaration": func(l *lowerer, n *sitter.Node) []*node.Node {
			left := n.ChildByFieldName("left")
			return l.assignments(n, namedChildren(left), l.lower(n.ChildByFieldName("right")))
		},
		"var_spec":         goSpec,
		"const_spec":       goSpec,
		"inc_statement":    lowerIncDec,
		"dec_statement":    lowerIncDec,
		"return_statement": lowerReturn,

		"for_statement": goFor,
		"if_statement":  goIf,
	}
}

func goParams(l *lowerer, lists ...*sitter.Node) []string {
	var out []string
	for _, list := range lists {
		for _, p := range namedChildren(list) {
			for i := 0; i < int(p.NamedChildCount()); i++ {
				c := p.NamedChild(i)
				if c.Type() == "identifier" {
					out = append(out, l.text(c))
				}
			}
		}
	}
	return out
}

func goFunction(l *lowerer, n *sitter.Node) []*node.Node {
	name := "<anonymous>"
	if nm := n.ChildByFieldName("name"); nm != nil {
		name = l.text(nm)
	}
	params := goParams(l, n.ChildByFieldName("receiver"), n.ChildByFieldName("parameters"))
	body := l.lower(n.ChildByFieldName("body"))
	return []*node.Node{l.at(node.Func(name, params, body...), n)}
}

func goAssignment(l *lowerer, n *sitter.Node) []*node.Node {
	op := l.op(n)
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if op != "=" {
		target := l.target(firstNamed(left))
		return []*node.Node{l.at(node.AugAssign(op, target, l.expr(right)), n)}
	}
	return l.assignments(n, namedChildren(left), l.lower(right))
}

func goSpec(l *lowerer, n *sitter.Node) []*node.Node {
	var targets []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == "identifier" {
			targets = append(targets, c)
		}
	}
	return l.assignments(n, targets, l.lower(n.ChildByFieldName("value")))
}

// goFor lowers the three loop forms. A for clause's initializer runs once
// and is emitted before the loop; its update runs every iteration and is
// appended to the body.
func goFor(l *lowerer, n *sitter.Node) []*node.Node {
	body := l.lower(n.ChildByFieldName("body"))
	var pre []*node.Node
	var vars []string
	var cond *node.Node
	bodyNode := n.ChildByFieldName("body")
	for _, c := range namedChildren(n) {
		if containsNode([]*sitter.Node{bodyNode}, c) {
			continue
		}
		switch c.Type() {
		case "range_clause":
			vars = l.namesIn(c.ChildByFieldName("left"))
			cond = l.expr(c.ChildByFieldName("right"))
		case "for_clause":
			if init := c.ChildByFieldName("initializer"); init != nil {
				pre = l.lower(init)
				if left := init.ChildByFieldName("left"); left != nil {
					vars = l.namesIn(left)
				}
			}
			cond = l.expr(c.ChildByFieldName("condition"))
			body = append(body, l.lower(c.ChildByFieldName("update"))...)
		default:
			cond = l.expr(c)
		}
	}
	if cond == nil {
		cond = l.at(node.Bool(true), n)
	}
	return append(pre, l.at(node.Loop(vars, cond, body...), n))
}

func goIf(l *lowerer, n *sitter.Node) []*node.Node {
	pre := l.lower(n.ChildByFieldName("initializer"))
	cond := l.expr(n.ChildByFieldName("condition"))
	if cond == nil {
		cond = l.at(node.Bool(true), n)
	}
	body := l.lower(n.ChildByFieldName("consequence"))
	body = append(body, l.lower(n.ChildByFieldName("alternative"))...)
	return append(pre, l.at(node.If(cond, body...), n))
}

func firstNamed(n *sitter.Node) *sitter.Node {
	if kids := namedChildren(n); len(kids) > 0 {
		return kids[0]
	}
	return n
}
