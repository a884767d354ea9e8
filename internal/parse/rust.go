package parse

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/vigil/internal/node"
)

func rustHandlers() map[string]handler {
	return map[string]handler{
		"line_comment":             drop,
		"block_comment":            drop,
		"use_declaration":          drop,
		"extern_crate_declaration": drop,
		"attribute_item":           drop,
		"inner_attribute_item":     drop,
		"struct_item":              drop,
		"enum_item":                drop,
		"union_item":               drop,
		"type_item":                drop,
		"macro_definition":         drop,
		"function_signature_item":  drop,
		"lifetime":                 drop,
		"break_expression":         drop,
		"continue_expression":      drop,

		"identifier":         lowerIdent,
		"self":               lowerIdent,
		"field_expression":   lowerMember,
		"scoped_identifier":  lowerMember,
		"integer_literal":    lowerNumber,
		"float_literal":      lowerNumber,
		"char_literal":       lowerNumber,
		"boolean_literal":    lowerBool,
		"string_literal":     lowerString(""),
		"raw_string_literal": rustRawString,

		"function_item":      rustFunction,
		"closure_expression": rustClosure,
		"call_expression":    lowerCall("function", "arguments"),
		"macro_invocation":   rustMacro,
		"binary_expression":  lowerBinary,
		"index_expression":   rustIndex,
		"mod_item": func(l *lowerer, n *sitter.Node) []*node.Node {
			return l.lower(n.ChildByFieldName("body"))
		},
		"type_cast_expression": func(l *lowerer, n *sitter.Node) []*node.Node {
			return l.lower(n.ChildByFieldName("value"))
		},

		"let_declaration":          rustLet,
		"const_item":               rustConst,
		"static_item":              rustConst,
		"compound_assignment_expr": lowerAugAssign,
		"return_expression":        lowerReturn,
		"assignment_expression": func(l *lowerer, n *sitter.Node) []*node.Node {
			return l.assignments(n, []*sitter.Node{n.ChildByFieldName("left")}, l.lower(n.ChildByFieldName("right")))
		},

		"for_expression":       rustFor,
		"while_expression":     lowerWhile,
		"while_let_expression": rustWhileLet,
		"loop_expression":      lowerWhile,
		"if_expression":        lowerIfElse,
		"if_let_expression":    rustIfLet,
		"match_expression":     rustMatch,
		"match_arm": func(l *lowerer, n *sitter.Node) []*node.Node {
			return l.lower(n.ChildByFieldName("value"))
		},
	}
}

func rustParams(l *lowerer, n *sitter.Node) []string {
	var out []string
	for _, p := range namedChildren(n) {
		switch p.Type() {
		case "self_parameter":
			out = append(out, "self")
		case "parameter":
			out = append(out, l.namesIn(p.ChildByFieldName("pattern"))...)
		case "identifier":
			out = append(out, l.text(p))
		default:
			if pat := p.ChildByFieldName("pattern"); pat != nil {
				out = append(out, l.namesIn(pat)...)
			} else {
				out = append(out, l.namesIn(p)...)
			}
		}
	}
	return out
}

func rustFunction(l *lowerer, n *sitter.Node) []*node.Node {
	name := l.text(n.ChildByFieldName("name"))
	if name == "" {
		name = "<anonymous>"
	}
	body := l.lower(n.ChildByFieldName("body"))
	return []*node.Node{l.at(node.Func(name, rustParams(l, n.ChildByFieldName("parameters")), body...), n)}
}

func rustClosure(l *lowerer, n *sitter.Node) []*node.Node {
	body := l.lower(n.ChildByFieldName("body"))
	return []*node.Node{l.at(node.Func("<closure>", rustParams(l, n.ChildByFieldName("parameters")), body...), n)}
}

// rustMacro lowers a macro invocation to a call named after the macro.
// Token trees are not parsed by the grammar, so the arguments are the
// loose names and literals inside them.
func rustMacro(l *lowerer, n *sitter.Node) []*node.Node {
	m := n.ChildByFieldName("macro")
	name, ok := l.nameOf(m)
	if !ok {
		name = l.text(m)
	}
	var args []*node.Node
	for _, c := range namedChildren(n) {
		if c.Type() == "token_tree" {
			args = append(args, l.children(c)...)
		}
	}
	return []*node.Node{l.at(node.Call(name, args...), n)}
}

func rustIndex(l *lowerer, n *sitter.Node) []*node.Node {
	kids := namedChildren(n)
	if len(kids) != 2 {
		return l.children(n)
	}
	obj, idx := l.expr(kids[0]), l.expr(kids[1])
	if obj == nil || idx == nil {
		return l.children(n)
	}
	return []*node.Node{l.at(node.BinOp("[]", obj, idx), n)}
}

// rustLet binds every name in the pattern, naming a closure after the
// variable it is assigned to.
func rustLet(l *lowerer, n *sitter.Node) []*node.Node {
	pat := n.ChildByFieldName("pattern")
	values := l.lower(n.ChildByFieldName("value"))
	if pat != nil && pat.Type() == "identifier" {
		if len(values) == 1 && values[0].Kind == node.KindFunctionDef && values[0].Name == "<closure>" {
			values[0].Name = l.text(pat)
		}
		return l.assignments(n, []*sitter.Node{pat}, values)
	}
	return l.assignments(n, identNodes(pat), values)
}

func rustConst(l *lowerer, n *sitter.Node) []*node.Node {
	return l.assignments(n, []*sitter.Node{n.ChildByFieldName("name")}, l.lower(n.ChildByFieldName("value")))
}

func rustFor(l *lowerer, n *sitter.Node) []*node.Node {
	vars := l.namesIn(n.ChildByFieldName("pattern"))
	iter := l.expr(n.ChildByFieldName("value"))
	if iter == nil {
		iter = l.at(node.None(), n)
	}
	body := l.lower(n.ChildByFieldName("body"))
	return []*node.Node{l.at(node.Loop(vars, iter, body...), n)}
}

func rustWhileLet(l *lowerer, n *sitter.Node) []*node.Node {
	vars := l.namesIn(n.ChildByFieldName("pattern"))
	cond := l.expr(n.ChildByFieldName("value"))
	if cond == nil {
		cond = l.at(node.Bool(true), n)
	}
	body := l.lower(n.ChildByFieldName("body"))
	return []*node.Node{l.at(node.Loop(vars, cond, body...), n)}
}

func rustIfLet(l *lowerer, n *sitter.Node) []*node.Node {
	cond := l.expr(n.ChildByFieldName("value"))
	if cond == nil {
		cond = l.at(node.Bool(true), n)
	}
	body := l.lower(n.ChildByFieldName("consequence"))
	body = append(body, l.lower(n.ChildByFieldName("alternative"))...)
	return []*node.Node{l.at(node.If(cond, body...), n)}
}

// rustMatch lowers a match as one If over the scrutinee whose body holds
// every arm.
func rustMatch(l *lowerer, n *sitter.Node) []*node.Node {
	cond := l.expr(n.ChildByFieldName("value"))
	if cond == nil {
		cond = l.at(node.Bool(true), n)
	}
	body := l.lower(n.ChildByFieldName("body"))
	return []*node.Node{l.at(node.If(cond, body...), n)}
}

// rustRawString strips the r#"..."# delimiters.
func rustRawString(l *lowerer, n *sitter.Node) []*node.Node {
	s := strings.TrimLeft(l.text(n), "br")
	s = strings.Trim(s, "#")
	return []*node.Node{l.at(node.Str(unquote(s)), n)}
}

// identNodes collects the identifier leaves of a pattern.
func identNodes(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	var out []*sitter.Node
	var walk func(*sitter.Node)
	walk = func(c *sitter.Node) {
		if c.Type() == "identifier" {
			out = append(out, c)
			return
		}
		for _, k := range namedChildren(c) {
			walk(k)
		}
	}
	walk(n)
	return out
}
