package rules

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/chris-regnier/vigil/internal/finding"
)

const testRuleYAML = `heuristics:
  credential_names: [pin]
  entropy_threshold: 12
rules:
  - id: "no-eval"
    name: "Dynamic evaluation"
    category: "security"
    level: "critical"
    message: "call to {callee}"
    match:
      callee: ["eval("]
`

func writeRuleFile(t *testing.T, dir, filename, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("creating dir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", filename, err)
	}
}

func TestLoadRules_DefaultsOnly(t *testing.T) {
	set, err := LoadRules("", "")
	if err != nil {
		t.Fatalf("LoadRules() error: %v", err)
	}
	if len(set.Rules) != 6 {
		t.Fatalf("expected 6 default rules, got %d", len(set.Rules))
	}
	if set.IDs()[0] != HardcodedSecret {
		t.Errorf("first rule = %s", set.IDs()[0])
	}
}

func TestLoadRules_ProjectAddsRules(t *testing.T) {
	projectDir := t.TempDir()
	writeRuleFile(t, projectDir, "custom.yaml", testRuleYAML)
	writeRuleFile(t, projectDir, "notes.txt", "not a rule file")

	set, err := LoadRules("", projectDir)
	if err != nil {
		t.Fatalf("LoadRules() error: %v", err)
	}
	if len(set.Rules) != 7 {
		t.Fatalf("expected 7 rules, got %d", len(set.Rules))
	}
	r, ok := set.Get("no-eval")
	if !ok {
		t.Fatal("custom rule not loaded")
	}
	if r.Source != SourceCustom {
		t.Errorf("source = %s, want Custom", r.Source)
	}
	if set.Heuristics.EntropyThreshold != 12 {
		t.Errorf("entropy threshold = %d, want 12", set.Heuristics.EntropyThreshold)
	}
	last := set.Heuristics.CredentialNames[len(set.Heuristics.CredentialNames)-1]
	if last != "pin" {
		t.Errorf("credential names not extended: %v", set.Heuristics.CredentialNames)
	}
}

func TestLoadRules_ProjectOverridesUser(t *testing.T) {
	userDir := t.TempDir()
	projectDir := t.TempDir()
	writeRuleFile(t, userDir, "a.yaml", `rules:
  - id: quadratic-concat
    level: warning
    message: "user message"
`)
	writeRuleFile(t, projectDir, "b.yml", `rules:
  - id: quadratic-concat
    level: critical
    message: "project message"
`)

	set, err := LoadRules(userDir, projectDir)
	if err != nil {
		t.Fatalf("LoadRules() error: %v", err)
	}
	r, _ := set.Get(QuadraticConcat)
	if r.Message != "project message" || r.Severity() != finding.SeverityCritical {
		t.Errorf("expected project override, got %q %s", r.Message, r.Severity())
	}
	if set.IDs()[5] != QuadraticConcat {
		t.Error("an override must keep the rule's registration position")
	}

	reg, err := set.Registry(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	rule, _ := reg.Get(QuadraticConcat)
	if rule.Match == nil {
		t.Fatal("metadata override should keep the built-in predicate")
	}
}

func TestLoadRules_InvalidFile(t *testing.T) {
	dir := t.TempDir()
	writeRuleFile(t, dir, "bad.yaml", "rules:\n  - id: x\n")
	if _, err := LoadRules(dir, ""); err == nil {
		t.Fatal("expected error for invalid rule file")
	}
}

func TestLoadRules_MissingDirIgnored(t *testing.T) {
	set, err := LoadRules(filepath.Join(t.TempDir(), "nope"), "")
	if err != nil {
		t.Fatalf("LoadRules() error: %v", err)
	}
	if len(set.Rules) != 6 {
		t.Fatalf("expected 6 rules, got %d", len(set.Rules))
	}
}

func TestRegistryEnabledAndOverrides(t *testing.T) {
	set, err := LoadRules("", "")
	if err != nil {
		t.Fatal(err)
	}
	reg, err := set.Registry(
		[]string{WeakComparison, HardcodedSecret},
		map[string]finding.Severity{WeakComparison: finding.SeverityCritical},
	)
	if err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 2 {
		t.Fatalf("Len = %d, want 2", reg.Len())
	}
	if reg.Order(HardcodedSecret) != 0 {
		t.Error("registration follows set order, not the enabled list")
	}
	r, _ := reg.Get(WeakComparison)
	if r.Severity != finding.SeverityCritical {
		t.Errorf("override not applied: %s", r.Severity)
	}
	if _, ok := reg.Get(QuadraticConcat); ok {
		t.Error("disabled rule registered")
	}
}

func TestRegistryUnknownIDs(t *testing.T) {
	set, err := LoadRules("", "")
	if err != nil {
		t.Fatal(err)
	}
	_, err = set.Registry([]string{"nope"}, map[string]finding.Severity{"also-nope": finding.SeverityInfo})
	var unknown *UnknownRuleError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownRuleError, got %v", err)
	}
	if len(unknown.IDs) != 2 || unknown.IDs[0] != "also-nope" {
		t.Errorf("IDs = %v", unknown.IDs)
	}
}

func TestCompileWithoutPredicate(t *testing.T) {
	if _, err := Compile(Rule{ID: "orphan", Level: "info", Message: "m"}); err == nil {
		t.Fatal("expected error for rule with no predicate")
	}
}
