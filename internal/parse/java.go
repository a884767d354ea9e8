package parse

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/vigil/internal/node"
)

func javaHandlers() map[string]handler {
	return map[string]handler{
		"line_comment":        drop,
		"block_comment":       drop,
		"package_declaration": drop,
		"import_declaration":  drop,
		"modifiers":           drop,
		"marker_annotation":   drop,
		"annotation":          drop,
		"type_parameters":     drop,
		"type_arguments":      drop,
		"break_statement":     drop,
		"continue_statement":  drop,

		"identifier":                     lowerIdent,
		"this":                           lowerIdent,
		"field_access":                   lowerMember,
		"decimal_integer_literal":        lowerNumber,
		"hex_integer_literal":            lowerNumber,
		"octal_integer_literal":          lowerNumber,
		"binary_integer_literal":         lowerNumber,
		"decimal_floating_point_literal": lowerNumber,
		"hex_floating_point_literal":     lowerNumber,
		"character_literal":              lowerNumber,
		"true":                           lowerBool,
		"false":                          lowerBool,
		"null_literal":                   lowerNone,
		"string_literal":                 lowerString(""),
		"text_block":                     lowerString(""),

		"method_declaration":         javaMethod,
		"constructor_declaration":    javaMethod,
		"lambda_expression":          javaLambda,
		"method_invocation":          javaInvocation,
		"object_creation_expression": javaNew,
		"binary_expression":          lowerBinary,
		"array_access":               lowerSubscript("array", "index"),
		"class_declaration":          javaTypeBody,
		"interface_declaration":      javaTypeBody,
		"enum_declaration":           javaTypeBody,
		"record_declaration":         javaTypeBody,
		"cast_expression": func(l *lowerer, n *sitter.Node) []*node.Node {
			return l.lower(n.ChildByFieldName("value"))
		},

		"variable_declarator": func(l *lowerer, n *sitter.Node) []*node.Node {
			return l.assignments(n, []*sitter.Node{n.ChildByFieldName("name")}, l.lower(n.ChildByFieldName("value")))
		},
		"assignment_expression": lowerAssignExpr,
		"update_expression":     lowerIncDec,
		"return_statement":      lowerReturn,

		"for_statement":                lowerForClause("init"),
		"enhanced_for_statement":       javaForEach,
		"while_statement":              lowerWhile,
		"do_statement":                 lowerWhile,
		"if_statement":                 lowerIfElse,
		"try_statement":                javaTry,
		"try_with_resources_statement": javaTry,
	}
}

func javaParams(l *lowerer, n *sitter.Node) []string {
	if n == nil {
		return nil
	}
	if n.Type() == "identifier" {
		return []string{l.text(n)}
	}
	var out []string
	for _, p := range namedChildren(n) {
		if name := p.ChildByFieldName("name"); name != nil {
			out = append(out, l.text(name))
			continue
		}
		out = append(out, l.namesIn(p)...)
	}
	return out
}

// javaMethod lowers methods and constructors. Annotations become the
// function's decorators.
func javaMethod(l *lowerer, n *sitter.Node) []*node.Node {
	name := l.text(n.ChildByFieldName("name"))
	body := l.lower(n.ChildByFieldName("body"))
	fn := l.at(node.Func(name, javaParams(l, n.ChildByFieldName("parameters")), body...), n)
	for _, c := range namedChildren(n) {
		if c.Type() != "modifiers" {
			continue
		}
		for _, a := range namedChildren(c) {
			if a.Type() == "marker_annotation" || a.Type() == "annotation" {
				if an, ok := l.nameOf(a.ChildByFieldName("name")); ok {
					fn.Decorators = append(fn.Decorators, an)
				}
			}
		}
	}
	return []*node.Node{fn}
}

func javaLambda(l *lowerer, n *sitter.Node) []*node.Node {
	body := l.lower(n.ChildByFieldName("body"))
	return []*node.Node{l.at(node.Func("<lambda>", javaParams(l, n.ChildByFieldName("parameters")), body...), n)}
}

// javaInvocation lowers obj.name(args). Unlike the other grammars the
// callee is split over the object and name fields.
func javaInvocation(l *lowerer, n *sitter.Node) []*node.Node {
	method := l.text(n.ChildByFieldName("name"))
	args := l.lower(n.ChildByFieldName("arguments"))
	obj := n.ChildByFieldName("object")
	if obj == nil {
		return []*node.Node{l.at(node.Call(method, args...), n)}
	}
	if name, ok := l.nameOf(obj); ok {
		return []*node.Node{l.at(node.Call(name+"."+method, args...), n)}
	}
	recv := l.expr(obj)
	return []*node.Node{l.at(node.MethodCall(recv, l.receiverText(recv)+"."+method, args...), n)}
}

// javaNew lowers `new T(args)` as a call to T.
func javaNew(l *lowerer, n *sitter.Node) []*node.Node {
	typ := l.text(n.ChildByFieldName("type"))
	if i := strings.IndexByte(typ, '<'); i >= 0 {
		typ = typ[:i]
	}
	args := l.lower(n.ChildByFieldName("arguments"))
	return []*node.Node{l.at(node.Call(typ, args...), n)}
}

func javaTypeBody(l *lowerer, n *sitter.Node) []*node.Node {
	return l.lower(n.ChildByFieldName("body"))
}

func javaForEach(l *lowerer, n *sitter.Node) []*node.Node {
	vars := l.namesIn(n.ChildByFieldName("name"))
	iter := l.expr(n.ChildByFieldName("value"))
	if iter == nil {
		iter = l.at(node.None(), n)
	}
	body := l.lower(n.ChildByFieldName("body"))
	return []*node.Node{l.at(node.Loop(vars, iter, body...), n)}
}

// javaTry lowers try, catch and finally blocks into one TryExcept whose
// handlers are the caught exception types.
func javaTry(l *lowerer, n *sitter.Node) []*node.Node {
	body := l.lower(n.ChildByFieldName("resources"))
	body = append(body, l.lower(n.ChildByFieldName("body"))...)
	var handlers []string
	for _, c := range namedChildren(n) {
		switch c.Type() {
		case "catch_clause":
			for _, p := range namedChildren(c) {
				if p.Type() != "catch_formal_parameter" {
					continue
				}
				for _, t := range namedChildren(p) {
					if t.Type() == "catch_type" {
						for _, ty := range namedChildren(t) {
							handlers = append(handlers, l.text(ty))
						}
					}
				}
			}
			body = append(body, l.lower(c.ChildByFieldName("body"))...)
		case "finally_clause":
			body = append(body, l.children(c)...)
		}
	}
	return []*node.Node{l.at(node.Try(handlers, body...), n)}
}
