package parse

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/vigil/internal/node"
)

func cHandlers() map[string]handler {
	return map[string]handler{
		"comment":              drop,
		"preproc_include":      drop,
		"preproc_def":          drop,
		"preproc_function_def": drop,
		"preproc_call":         drop,
		"type_definition":      drop,
		"struct_specifier":     drop,
		"union_specifier":      drop,
		"enum_specifier":       drop,
		"primitive_type":       drop,
		"type_identifier":      drop,
		"break_statement":      drop,
		"continue_statement":   drop,
		"goto_statement":       drop,
		"statement_identifier": drop,

		"identifier":       lowerIdent,
		"field_expression": lowerMember,
		"number_literal":   lowerNumber,
		"char_literal":     lowerNumber,
		"true":             lowerBool,
		"false":            lowerBool,
		"null":             lowerNone,
		"string_literal":   lowerString(""),

		"function_definition":  cFunction,
		"call_expression":      lowerCall("function", "arguments"),
		"binary_expression":    lowerBinary,
		"subscript_expression": lowerSubscript("argument", "index"),
		"cast_expression": func(l *lowerer, n *sitter.Node) []*node.Node {
			return l.lower(n.ChildByFieldName("value"))
		},

		"declaration":           cDeclaration,
		"init_declarator":       cInitDeclarator,
		"assignment_expression": lowerAssignExpr,
		"update_expression":     lowerIncDec,
		"return_statement":      lowerReturn,

		"for_statement":   lowerForClause("initializer"),
		"while_statement": lowerWhile,
		"do_statement":    lowerWhile,
		"if_statement":    lowerIfElse,
	}
}

// cDeclarator follows the declarator chain of pointer, array and function
// declarators down to the node of the given type.
func cDeclarator(n *sitter.Node, typ string) *sitter.Node {
	for n != nil && n.Type() != typ {
		next := n.ChildByFieldName("declarator")
		if next == nil && n.Type() == "parenthesized_declarator" && n.NamedChildCount() > 0 {
			next = n.NamedChild(0)
		}
		n = next
	}
	return n
}

func cFunction(l *lowerer, n *sitter.Node) []*node.Node {
	decl := cDeclarator(n.ChildByFieldName("declarator"), "function_declarator")
	name := "<anonymous>"
	var params []string
	if decl != nil {
		if id := cDeclarator(decl.ChildByFieldName("declarator"), "identifier"); id != nil {
			name = l.text(id)
		}
		for _, p := range namedChildren(decl.ChildByFieldName("parameters")) {
			if id := cDeclarator(p.ChildByFieldName("declarator"), "identifier"); id != nil {
				params = append(params, l.text(id))
			}
		}
	}
	body := l.lower(n.ChildByFieldName("body"))
	return []*node.Node{l.at(node.Func(name, params, body...), n)}
}

// cDeclaration keeps only the declarators that initialize a value.
func cDeclaration(l *lowerer, n *sitter.Node) []*node.Node {
	var out []*node.Node
	for _, c := range namedChildren(n) {
		if c.Type() == "init_declarator" {
			out = append(out, l.lower(c)...)
		}
	}
	return out
}

func cInitDeclarator(l *lowerer, n *sitter.Node) []*node.Node {
	values := l.lower(n.ChildByFieldName("value"))
	id := cDeclarator(n.ChildByFieldName("declarator"), "identifier")
	if id == nil {
		return values
	}
	return l.assignments(n, []*sitter.Node{id}, values)
}
