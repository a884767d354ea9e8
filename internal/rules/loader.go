package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chris-regnier/vigil/internal/facts"
)

// Set is the built-in rules plus whatever user and project rule files add.
type Set struct {
	Rules      []Rule
	Heuristics facts.Heuristics
}

// LoadRules merges the built-in rules with *.yaml files from userDir and
// projectDir, in that order. A file rule with a built-in id replaces its
// metadata, and its predicate too if it has a match block. Missing
// directories are ignored.
func LoadRules(userDir, projectDir string) (*Set, error) {
	return LoadRuleDirs(userDir, projectDir)
}

// LoadRuleDirs is LoadRules over any number of directories, later ones
// taking precedence.
func LoadRuleDirs(dirs ...string) (*Set, error) {
	builtin, err := BuiltinFile()
	if err != nil {
		return nil, fmt.Errorf("loading default rules: %w", err)
	}
	set := &Set{Rules: append([]Rule(nil), builtin.Rules...), Heuristics: *builtin.Heuristics}

	for _, dir := range dirs {
		files, err := loadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("loading rules from %s: %w", dir, err)
		}
		for _, rf := range files {
			set.merge(rf)
		}
	}
	return set, nil
}

func (s *Set) merge(rf *RuleFile) {
	index := make(map[string]int, len(s.Rules))
	for i, r := range s.Rules {
		index[r.ID] = i
	}
	for _, r := range rf.Rules {
		if r.Source == "" {
			r.Source = SourceCustom
		}
		if i, ok := index[r.ID]; ok {
			s.Rules[i] = r
			continue
		}
		index[r.ID] = len(s.Rules)
		s.Rules = append(s.Rules, r)
	}
	if rf.Heuristics != nil {
		s.Heuristics = mergeHeuristics(s.Heuristics, *rf.Heuristics)
	}
}

// mergeHeuristics appends extra's pattern lists to base.
func mergeHeuristics(base, extra facts.Heuristics) facts.Heuristics {
	cat := func(a, b []string) []string { return append(append([]string(nil), a...), b...) }
	out := base
	out.CredentialNames = cat(base.CredentialNames, extra.CredentialNames)
	out.CredentialExclusions = cat(base.CredentialExclusions, extra.CredentialExclusions)
	out.Placeholders = cat(base.Placeholders, extra.Placeholders)
	out.NonSecretPrefixes = cat(base.NonSecretPrefixes, extra.NonSecretPrefixes)
	out.IOCalls = cat(base.IOCalls, extra.IOCalls)
	out.QueryCalls = cat(base.QueryCalls, extra.QueryCalls)
	out.AuthCalls = cat(base.AuthCalls, extra.AuthCalls)
	out.GuardNames = cat(base.GuardNames, extra.GuardNames)
	out.JoinCalls = cat(base.JoinCalls, extra.JoinCalls)
	out.HashingCalls = cat(base.HashingCalls, extra.HashingCalls)
	out.ConstantTimeCalls = cat(base.ConstantTimeCalls, extra.ConstantTimeCalls)
	out.ContainerCalls = cat(base.ContainerCalls, extra.ContainerCalls)
	if extra.EntropyThreshold > 0 {
		out.EntropyThreshold = extra.EntropyThreshold
	}
	return out
}

// IDs returns the rule ids in registration order.
func (s *Set) IDs() []string {
	ids := make([]string, len(s.Rules))
	for i, r := range s.Rules {
		ids[i] = r.ID
	}
	return ids
}

// Get finds a rule by id.
func (s *Set) Get(id string) (Rule, bool) {
	for _, r := range s.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

func loadDir(dir string) ([]*RuleFile, error) {
	if dir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var files []*RuleFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		rf, err := ParseRuleFile(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", entry.Name(), err)
		}

		files = append(files, rf)
	}
	return files, nil
}
