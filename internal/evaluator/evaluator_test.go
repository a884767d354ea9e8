package evaluator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/node"
)

func mk(rule string, sev finding.Severity, line int) finding.Finding {
	return finding.Finding{
		RuleID:   rule,
		Severity: sev,
		File:     "app.py",
		Span:     node.Range(line, 1, line, 10),
		Message:  rule + " here",
	}
}

func TestEvaluator_DefaultPolicy(t *testing.T) {
	e, err := NewEvaluator(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		findings []finding.Finding
		failOn   finding.Severity
		decision string
		relevant int
	}{
		{"no findings", nil, finding.SeverityCritical, DecisionPass, 0},
		{"info only", []finding.Finding{mk("quadratic-concat", finding.SeverityInfo, 3)}, finding.SeverityCritical, DecisionPass, 0},
		{"warning below threshold", []finding.Finding{mk("weak-comparison", finding.SeverityWarning, 4)}, finding.SeverityCritical, DecisionReview, 1},
		{"critical", []finding.Finding{
			mk("hardcoded-secret", finding.SeverityCritical, 2),
			mk("weak-comparison", finding.SeverityWarning, 4),
		}, finding.SeverityCritical, DecisionFail, 1},
		{"lowered threshold", []finding.Finding{mk("weak-comparison", finding.SeverityWarning, 4)}, finding.SeverityWarning, DecisionFail, 1},
		{"parse error never blocks", []finding.Finding{mk(finding.ParseErrorRule, finding.SeverityNone, 1)}, finding.SeverityNone, DecisionPass, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := e.Evaluate(context.Background(), tt.findings, tt.failOn)
			if err != nil {
				t.Fatal(err)
			}
			if v.Decision != tt.decision {
				t.Errorf("decision = %q, want %q (reason %q)", v.Decision, tt.decision, v.Reason)
			}
			if len(v.RelevantFindings) != tt.relevant {
				t.Errorf("relevant = %d, want %d", len(v.RelevantFindings), tt.relevant)
			}
			if v.Reason == "" {
				t.Error("expected a reason")
			}
		})
	}
}

func TestEvaluator_FailReason(t *testing.T) {
	e, err := NewEvaluator(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	v, err := e.Evaluate(context.Background(), []finding.Finding{mk("hardcoded-secret", finding.SeverityCritical, 2)}, finding.SeverityCritical)
	if err != nil {
		t.Fatal(err)
	}
	if v.Reason != "1 finding(s) at or above critical" {
		t.Errorf("unexpected reason %q", v.Reason)
	}
	if v.Metadata["fail_on"] != "critical" {
		t.Errorf("unexpected metadata: %v", v.Metadata)
	}
}

func TestEvaluator_CustomPolicy(t *testing.T) {
	dir := t.TempDir()
	policy := `package vigil.gate

import rego.v1

default decision := "pass"

decision := "fail" if {
	some f in input.findings
	f.rule_id == "weak-comparison"
}
`
	if err := os.WriteFile(filepath.Join(dir, "strict.rego"), []byte(policy), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a policy"), 0644); err != nil {
		t.Fatal(err)
	}

	e, err := NewEvaluator(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Modules(); len(got) != 1 || got[0] != "strict.rego" {
		t.Errorf("unexpected modules %v", got)
	}
	v, err := e.Evaluate(context.Background(), []finding.Finding{mk("weak-comparison", finding.SeverityWarning, 4)}, finding.SeverityCritical)
	if err != nil {
		t.Fatal(err)
	}
	if v.Decision != DecisionFail {
		t.Errorf("expected custom policy to fail, got %q", v.Decision)
	}
	if v.Reason == "" {
		t.Error("expected fallback reason")
	}
}

func TestEvaluator_EmptyPolicyDirUsesDefault(t *testing.T) {
	e, err := NewEvaluator(context.Background(), filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatal(err)
	}
	if got := e.Modules(); len(got) != 1 || got[0] != "default.rego" {
		t.Errorf("unexpected modules %v", got)
	}
}

func TestEvaluator_InvalidPolicy(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.rego"), []byte("package vigil.gate\n\ndecision := "), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewEvaluator(context.Background(), dir); err == nil {
		t.Error("expected error for invalid policy")
	}
}
