package rules

import (
	_ "embed"
	"fmt"

	"github.com/chris-regnier/vigil/internal/facts"
)

//go:embed builtin.yaml
var builtinYAML []byte

// BuiltinFile parses the embedded rule metadata and heuristics.
func BuiltinFile() (*RuleFile, error) {
	rf, err := ParseRuleFile(builtinYAML)
	if err != nil {
		return nil, fmt.Errorf("builtin rules: %w", err)
	}
	for _, r := range rf.Rules {
		if _, ok := predicates[r.ID]; !ok {
			return nil, fmt.Errorf("builtin rule %q has no predicate", r.ID)
		}
	}
	return rf, nil
}

func DefaultRules() ([]Rule, error) {
	rf, err := BuiltinFile()
	if err != nil {
		return nil, err
	}
	return rf.Rules, nil
}

// DefaultHeuristics returns the embedded pattern data.
func DefaultHeuristics() (facts.Heuristics, error) {
	rf, err := BuiltinFile()
	if err != nil {
		return facts.Heuristics{}, err
	}
	if rf.Heuristics == nil {
		return facts.Heuristics{}, fmt.Errorf("builtin rules: missing heuristics")
	}
	return *rf.Heuristics, nil
}
