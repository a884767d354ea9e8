package parse

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/vigil/internal/node"
)

func jsHandlers() map[string]handler {
	return map[string]handler{
		"comment":            drop,
		"import_statement":   drop,
		"export_clause":      drop,
		"debugger_statement": drop,
		"break_statement":    drop,
		"continue_statement": drop,
		"regex":              drop,
		"decorator":          drop,

		"identifier":                    lowerIdent,
		"property_identifier":           lowerIdent,
		"shorthand_property_identifier": lowerIdent,
		"this":                          lowerIdent,
		"member_expression":             lowerMember,
		"subscript_expression":          lowerSubscript("object", "index"),
		"number":                        lowerNumber,
		"true":                          lowerBool,
		"false":                         lowerBool,
		"null":                          lowerNone,
		"undefined":                     lowerNone,
		"string":                        lowerString(""),
		"template_string":               lowerString("template_substitution"),

		"function_declaration":           jsFunction,
		"generator_function_declaration": jsFunction,
		"function_expression":            jsFunction,
		"function":                       jsFunction,
		"generator_function":             jsFunction,
		"arrow_function":                 jsFunction,
		"method_definition":              jsFunction,
		"class_body":                     jsClassBody,
		"call_expression":                lowerCall("function", "arguments"),
		"new_expression":                 lowerCall("constructor", "arguments"),
		"binary_expression":              lowerBinary,
		"pair": func(l *lowerer, n *sitter.Node) []*node.Node {
			return l.lower(n.ChildByFieldName("value"))
		},

		"assignment_expression": func(l *lowerer, n *sitter.Node) []*node.Node {
			return l.assignments(n, []*sitter.Node{n.ChildByFieldName("left")}, l.lower(n.ChildByFieldName("right")))
		},
		"augmented_assignment_expression": lowerAugAssign,
		"update_expression":               lowerIncDec,
		"variable_declarator":             jsDeclarator,
		"field_definition":                jsField,
		"return_statement":                lowerReturn,

		"for_statement":    jsFor,
		"for_in_statement": jsForIn,
		"while_statement":  lowerWhile,
		"do_statement":     lowerWhile,
		"if_statement":     lowerIfElse,
		"try_statement":    jsTry,
	}
}

func jsParams(l *lowerer, n *sitter.Node) []string {
	if p := n.ChildByFieldName("parameter"); p != nil {
		return l.namesIn(p)
	}
	var out []string
	for _, p := range namedChildren(n.ChildByFieldName("parameters")) {
		switch p.Type() {
		case "assignment_pattern":
			out = append(out, l.namesIn(p.ChildByFieldName("left"))...)
			continue
		case "required_parameter", "optional_parameter":
			out = append(out, l.namesIn(p.ChildByFieldName("pattern"))...)
			continue
		}
		out = append(out, l.namesIn(p)...)
	}
	return out
}

func jsFunction(l *lowerer, n *sitter.Node) []*node.Node {
	name := "<anonymous>"
	if nm := n.ChildByFieldName("name"); nm != nil {
		name = l.text(nm)
	}
	body := l.lower(n.ChildByFieldName("body"))
	fn := l.at(node.Func(name, jsParams(l, n), body...), n)
	fn.Decorators = jsDecorators(l, namedChildren(n)...)
	return []*node.Node{fn}
}

// jsClassBody attaches decorators that the grammar places beside a method
// rather than inside it.
func jsClassBody(l *lowerer, n *sitter.Node) []*node.Node {
	var out []*node.Node
	var pending []string
	for _, c := range namedChildren(n) {
		if c.Type() == "decorator" {
			pending = append(pending, jsDecorators(l, c)...)
			continue
		}
		lowered := l.lower(c)
		if len(pending) > 0 && len(lowered) == 1 && lowered[0].Kind == node.KindFunctionDef {
			lowered[0].Decorators = append(pending, lowered[0].Decorators...)
		}
		pending = nil
		out = append(out, lowered...)
	}
	return out
}

// jsDecorators returns the names of the decorator nodes among nodes.
func jsDecorators(l *lowerer, nodes ...*sitter.Node) []string {
	var names []string
	for _, c := range nodes {
		if c.Type() != "decorator" || c.NamedChildCount() == 0 {
			continue
		}
		expr := c.NamedChild(0)
		if expr.Type() == "call_expression" {
			expr = expr.ChildByFieldName("function")
		}
		if name, ok := l.nameOf(expr); ok {
			names = append(names, name)
		}
	}
	return names
}

// jsDeclarator names anonymous functions after the variable they are bound
// to, so `const login = async () => {}` is the function "login".
func jsDeclarator(l *lowerer, n *sitter.Node) []*node.Node {
	nameNode := n.ChildByFieldName("name")
	values := l.lower(n.ChildByFieldName("value"))
	if len(values) == 1 && values[0].Kind == node.KindFunctionDef && values[0].Name == "<anonymous>" {
		if name, ok := l.nameOf(nameNode); ok {
			values[0].Name = name
		}
	}
	if nameNode != nil && nameNode.Type() != "identifier" {
		// destructuring: bind every name, the first one carrying the value
		var targets []*sitter.Node
		var walk func(*sitter.Node)
		walk = func(c *sitter.Node) {
			if c.Type() == "identifier" || c.Type() == "shorthand_property_identifier_pattern" {
				targets = append(targets, c)
				return
			}
			for _, k := range namedChildren(c) {
				walk(k)
			}
		}
		walk(nameNode)
		return l.assignments(n, targets, values)
	}
	return l.assignments(n, []*sitter.Node{nameNode}, values)
}

func jsField(l *lowerer, n *sitter.Node) []*node.Node {
	prop := n.ChildByFieldName("property")
	values := l.lower(n.ChildByFieldName("value"))
	if prop == nil {
		return values
	}
	target := l.at(node.Ident(l.text(prop)), prop)
	return []*node.Node{l.at(newAssign(target, values), n)}
}

func jsFor(l *lowerer, n *sitter.Node) []*node.Node {
	init := n.ChildByFieldName("initializer")
	pre := l.lower(init)
	var vars []string
	for _, d := range namedChildren(init) {
		if d.Type() == "variable_declarator" {
			vars = append(vars, l.namesIn(d.ChildByFieldName("name"))...)
		}
	}
	cond := l.expr(n.ChildByFieldName("condition"))
	if cond == nil {
		cond = l.at(node.Bool(true), n)
	}
	body := l.lower(n.ChildByFieldName("body"))
	body = append(body, l.lower(n.ChildByFieldName("increment"))...)
	return append(pre, l.at(node.Loop(vars, cond, body...), n))
}

func jsForIn(l *lowerer, n *sitter.Node) []*node.Node {
	vars := l.namesIn(n.ChildByFieldName("left"))
	iter := l.expr(n.ChildByFieldName("right"))
	if iter == nil {
		iter = l.at(node.None(), n)
	}
	body := l.lower(n.ChildByFieldName("body"))
	return []*node.Node{l.at(node.Loop(vars, iter, body...), n)}
}

func jsTry(l *lowerer, n *sitter.Node) []*node.Node {
	body := l.lower(n.ChildByFieldName("body"))
	if h := n.ChildByFieldName("handler"); h != nil {
		body = append(body, l.lower(h.ChildByFieldName("body"))...)
	}
	if f := n.ChildByFieldName("finalizer"); f != nil {
		body = append(body, l.lower(f.ChildByFieldName("body"))...)
	}
	return []*node.Node{l.at(node.Try(nil, body...), n)}
}
