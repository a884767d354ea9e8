package parse

import (
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/chris-regnier/vigil/internal/node"
)

// tsHandlers extends the JavaScript table. Type-level syntax carries no
// runtime behaviour and is dropped.
func tsHandlers() map[string]handler {
	h := jsHandlers()
	for _, t := range []string{
		"type_annotation",
		"type_alias_declaration",
		"interface_declaration",
		"enum_declaration",
		"ambient_declaration",
		"type_parameters",
		"type_arguments",
		"function_signature",
		"method_signature",
		"abstract_method_signature",
		"index_signature",
		"accessibility_modifier",
		"override_modifier",
	} {
		h[t] = drop
	}
	h["public_field_definition"] = tsField
	h["as_expression"] = firstOperand
	h["satisfies_expression"] = firstOperand
	h["non_null_expression"] = firstOperand
	return h
}

func tsField(l *lowerer, n *sitter.Node) []*node.Node {
	name := n.ChildByFieldName("name")
	values := l.lower(n.ChildByFieldName("value"))
	if name == nil {
		return values
	}
	target := l.at(node.Ident(l.text(name)), name)
	return []*node.Node{l.at(newAssign(target, values), n)}
}

// firstOperand lowers only the expression of a type assertion.
func firstOperand(l *lowerer, n *sitter.Node) []*node.Node {
	if n.NamedChildCount() == 0 {
		return nil
	}
	return l.lower(n.NamedChild(0))
}
