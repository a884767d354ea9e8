// Package engine dispatches rules over normalized trees. A Registry groups
// rules by the node kinds they subscribe to; the Engine walks each tree once
// in post-order after the fact pass and turns rule hits into findings.
package engine

import (
	"fmt"

	"github.com/valyala/fasttemplate"

	"github.com/chris-regnier/vigil/internal/facts"
	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/node"
)

// Meta is the descriptive part of a rule.
type Meta struct {
	ID       string
	Name     string
	Version  string
	Severity finding.Severity
	Category finding.Category
	// Message is a template; {name} placeholders are filled from Hit.Args.
	Message     string
	Explanation string
	Remediation string
	CWE         string
}

// Match is what a rule sees at one node.
type Match struct {
	Node  *node.Node
	Scope *facts.Scope
	Facts *facts.Table
	File  string
}

// Hit is one raw rule match.
type Hit struct {
	// Node is the reported location. Nil means the matched node.
	Node *node.Node
	Args map[string]interface{}
	// Fix overrides the rule's remediation text.
	Fix string
}

// Predicate inspects one node and reports zero or more hits. Predicates must
// be pure: they read the node and the fact table and nothing else.
type Predicate func(m *Match) []Hit

// Rule is an immutable detector.
type Rule struct {
	Meta
	Kinds []node.Kind
	Match Predicate
}

// WithSeverity returns a copy of r reporting at s.
func (r *Rule) WithSeverity(s finding.Severity) *Rule {
	c := *r
	c.Severity = s
	c.Kinds = append([]node.Kind(nil), r.Kinds...)
	return &c
}

func (r *Rule) validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule has no id")
	}
	if r.Match == nil {
		return fmt.Errorf("rule %q has no predicate", r.ID)
	}
	if len(r.Kinds) == 0 {
		return fmt.Errorf("rule %q subscribes to no node kinds", r.ID)
	}
	for _, k := range r.Kinds {
		if k >= node.NumKinds {
			return fmt.Errorf("rule %q subscribes to invalid kind %s", r.ID, k)
		}
	}
	return nil
}

// render fills the message template. Unknown placeholders are kept as-is.
func render(tpl string, args map[string]interface{}) string {
	if len(args) == 0 {
		return tpl
	}
	m := make(map[string]interface{}, len(args))
	for k, v := range args {
		switch v := v.(type) {
		case string, []byte:
			m[k] = v
		default:
			m[k] = fmt.Sprint(v)
		}
	}
	return fasttemplate.ExecuteStringStd(tpl, "{", "}", m)
}

func (r *Rule) finding(m *Match, h Hit, order int) finding.Finding {
	at := h.Node
	if at == nil {
		at = m.Node
	}
	fix := h.Fix
	if fix == "" {
		fix = render(r.Remediation, h.Args)
	}
	return finding.Finding{
		RuleID:       r.ID,
		Severity:     r.Severity,
		Category:     r.Category,
		File:         m.File,
		Span:         at.Span,
		Message:      render(r.Message, h.Args),
		SuggestedFix: fix,
		Explanation:  r.Explanation,
		Order:        order,
	}
}
