package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chris-regnier/vigil/internal/engine"
	"github.com/chris-regnier/vigil/internal/facts"
	"github.com/chris-regnier/vigil/internal/finding"
)

// UnknownRuleError names rule ids that are not in the set.
type UnknownRuleError struct {
	IDs []string
}

func (e *UnknownRuleError) Error() string {
	return fmt.Sprintf("unknown rule id(s): %s", strings.Join(e.IDs, ", "))
}

// Compile turns a rule description into an engine rule.
func Compile(r Rule) (*engine.Rule, error) {
	meta := engine.Meta{
		ID:          r.ID,
		Name:        r.Name,
		Version:     r.Version,
		Severity:    r.Severity(),
		Category:    r.Category,
		Message:     r.Message,
		Explanation: strings.TrimSpace(r.Explanation),
		Remediation: r.Remediation,
		CWE:         strings.Join(r.CWE, ","),
	}
	if r.Match != nil {
		kinds, match := customPredicate(r.Match)
		return &engine.Rule{
			Meta:  meta,
			Kinds: kinds,
			Match: func(m *engine.Match) []engine.Hit {
				if !match(m.Facts, m.Node, m.Scope) {
					return nil
				}
				return []engine.Hit{{Args: map[string]interface{}{"callee": m.Node.Callee}}}
			},
		}, nil
	}
	p, ok := predicates[r.ID]
	if !ok {
		return nil, fmt.Errorf("rule %q has neither a built-in predicate nor a match block", r.ID)
	}
	return &engine.Rule{Meta: meta, Kinds: p.kinds, Match: p.match}, nil
}

// Registry compiles the enabled rules of s, in set order, applying
// severity overrides. An empty enabled list enables every rule. Unknown ids
// in either argument are reported together as an *UnknownRuleError.
func (s *Set) Registry(enabled []string, overrides map[string]finding.Severity) (*engine.Registry, error) {
	if err := s.Check(enabled, overrides); err != nil {
		return nil, err
	}
	on := make(map[string]bool, len(enabled))
	for _, id := range enabled {
		on[id] = true
	}
	reg := engine.NewRegistry()
	for _, r := range s.Rules {
		if len(on) > 0 && !on[r.ID] {
			continue
		}
		rule, err := Compile(r)
		if err != nil {
			return nil, err
		}
		if sev, ok := overrides[r.ID]; ok {
			rule = rule.WithSeverity(sev)
		}
		if err := reg.Register(rule); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Check reports ids in enabled or overrides that s does not define.
func (s *Set) Check(enabled []string, overrides map[string]finding.Severity) error {
	known := make(map[string]bool, len(s.Rules))
	for _, r := range s.Rules {
		known[r.ID] = true
	}
	var unknown []string
	for _, id := range enabled {
		if !known[id] {
			unknown = append(unknown, id)
		}
	}
	for id := range overrides {
		if !known[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &UnknownRuleError{IDs: unknown}
	}
	return nil
}

// Builtin returns a registry of every built-in rule at default severity
// together with the built-in heuristics.
func Builtin() (*engine.Registry, facts.Heuristics, error) {
	s, err := LoadRules("", "")
	if err != nil {
		return nil, facts.Heuristics{}, err
	}
	reg, err := s.Registry(nil, nil)
	if err != nil {
		return nil, facts.Heuristics{}, err
	}
	return reg, s.Heuristics, nil
}
