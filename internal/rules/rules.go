package rules

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/chris-regnier/vigil/internal/facts"
	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/node"
)

type RuleSource string

const (
	SourceCWE     RuleSource = "CWE"
	SourceOWASP   RuleSource = "OWASP"
	SourceBuiltin RuleSource = "Builtin"
	SourceCustom  RuleSource = "Custom"
)

// Rule is the YAML description of a rule. Built-in rules carry metadata
// only; their predicates are in Go. Custom rules add a match block.
type Rule struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	Version     string           `yaml:"version,omitempty"`
	Category    finding.Category `yaml:"category"`
	Level       string           `yaml:"level"`
	Message     string           `yaml:"message"`
	Explanation string           `yaml:"explanation,omitempty"`
	Remediation string           `yaml:"remediation,omitempty"`
	Source      RuleSource       `yaml:"source,omitempty"`
	CWE         []string         `yaml:"cwe,omitempty"`
	References  []string         `yaml:"references,omitempty"`
	Match       *MatchSpec       `yaml:"match,omitempty"`

	severity finding.Severity
}

// MatchSpec is a declarative call-site matcher for custom rules.
type MatchSpec struct {
	// Callee patterns use the heuristics call pattern syntax.
	Callee []string `yaml:"callee"`
	// InLoop restricts matches to calls inside a loop.
	InLoop bool `yaml:"in_loop,omitempty"`
	// LoopVariable additionally requires an argument derived from the
	// loop's iteration variable.
	LoopVariable bool `yaml:"loop_variable,omitempty"`
	// Outside lists function names the call may not appear in.
	Outside []string `yaml:"outside,omitempty"`
}

// Severity is the parsed Level.
func (r *Rule) Severity() finding.Severity { return r.severity }

type RuleFile struct {
	Heuristics *facts.Heuristics `yaml:"heuristics,omitempty"`
	Rules      []Rule            `yaml:"rules"`
}

func ParseRuleFile(data []byte) (*RuleFile, error) {
	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing rule file: %w", err)
	}

	seen := make(map[string]bool)
	for i := range rf.Rules {
		r := &rf.Rules[i]
		if err := validateRule(r); err != nil {
			return nil, fmt.Errorf("rule %q (index %d): %w", r.ID, i, err)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule ID %q", r.ID)
		}
		seen[r.ID] = true
	}

	return &rf, nil
}

func validateRule(r *Rule) error {
	if r.ID == "" {
		return fmt.Errorf("missing required field: id")
	}
	if r.Level == "" {
		return fmt.Errorf("missing required field: level")
	}
	if r.Message == "" {
		return fmt.Errorf("missing required field: message")
	}
	sev, err := finding.ParseSeverity(r.Level)
	if err != nil {
		return err
	}
	if sev == finding.SeverityNone {
		return fmt.Errorf("level %q is not a reporting severity", r.Level)
	}
	r.severity = sev
	if r.Match != nil && len(r.Match.Callee) == 0 {
		return fmt.Errorf("match block needs at least one callee pattern")
	}
	return nil
}

func ByCategory(rules []Rule, category finding.Category) []Rule {
	var filtered []Rule
	for _, r := range rules {
		if r.Category == category {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func ByCWE(rules []Rule, cweID string) []Rule {
	var filtered []Rule
	for _, r := range rules {
		for _, cwe := range r.CWE {
			if cwe == cweID {
				filtered = append(filtered, r)
				break
			}
		}
	}
	return filtered
}

// customPredicate compiles a match block.
func customPredicate(spec *MatchSpec) ([]node.Kind, func(*facts.Table, *node.Node, *facts.Scope) bool) {
	m := facts.NewCallMatcher(spec.Callee...)
	outside := make(map[string]bool, len(spec.Outside))
	for _, name := range spec.Outside {
		outside[name] = true
	}
	return []node.Kind{node.KindCall}, func(t *facts.Table, n *node.Node, sc *facts.Scope) bool {
		if !m.Match(n) {
			return false
		}
		if (spec.InLoop || spec.LoopVariable) && t.LoopDepth(n) == 0 {
			return false
		}
		if spec.LoopVariable && !t.ReferencesLoopVar(n) {
			return false
		}
		for s := sc; s != nil; s = s.Parent {
			if s.IsFunction() && outside[s.Name()] {
				return false
			}
		}
		return true
	}
}
