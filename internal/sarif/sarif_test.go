package sarif

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/chris-regnier/vigil/internal/engine"
	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/node"
)

var weakComparison = engine.Meta{
	ID:          "weak-comparison",
	Name:        "Non-constant-time secret comparison",
	Severity:    finding.SeverityWarning,
	Category:    finding.CategorySecurity,
	Explanation: "Equality operators return early.",
	Remediation: "Use hmac.compare_digest.",
	CWE:         "CWE-208",
}

func sampleFindings() []finding.Finding {
	return []finding.Finding{
		{
			RuleID:       "weak-comparison",
			Severity:     finding.SeverityWarning,
			Category:     finding.CategorySecurity,
			File:         "auth.py",
			Span:         node.Range(7, 12, 7, 40),
			Message:      "user_input is compared with ==",
			SuggestedFix: "Use hmac.compare_digest.",
		},
		{
			RuleID:   finding.ParseErrorRule,
			Severity: finding.SeverityNone,
			Category: finding.CategoryDiagnostic,
			File:     "broken.py",
			Span:     node.Range(3, 1, 3, 1),
			Message:  "file could not be analyzed: unexpected token",
		},
	}
}

func TestLevel(t *testing.T) {
	tests := []struct {
		sev   finding.Severity
		level string
	}{
		{finding.SeverityCritical, "error"},
		{finding.SeverityWarning, "warning"},
		{finding.SeverityInfo, "note"},
		{finding.SeverityNone, "none"},
	}
	for _, tt := range tests {
		if got := Level(tt.sev); got != tt.level {
			t.Errorf("Level(%s) = %q, want %q", tt.sev, got, tt.level)
		}
		if got := SeverityFromLevel(tt.level); got != tt.sev {
			t.Errorf("SeverityFromLevel(%q) = %s, want %s", tt.level, got, tt.sev)
		}
	}
}

func TestAssembler_Build(t *testing.T) {
	log := NewAssembler("vigil", "1.2.3").
		AddRules(weakComparison, weakComparison).
		AddFindings(sampleFindings()...).
		AddProblems(FileProblem{File: "big.py", Status: "skipped", Detail: "file size 200000 exceeds limit 102400"}).
		WithProperty("vigil/decision", "review").
		Build()

	if len(log.Runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(log.Runs))
	}
	run := log.Runs[0]
	if run.Tool.Driver.Name != "vigil" || run.Tool.Driver.Version != "1.2.3" {
		t.Errorf("unexpected driver: %+v", run.Tool.Driver)
	}
	if len(run.Tool.Driver.Rules) != 1 {
		t.Fatalf("duplicate rules should collapse, got %d", len(run.Tool.Driver.Rules))
	}
	rule := run.Tool.Driver.Rules[0]
	if rule.DefaultConfig.Level != "warning" || rule.Help == nil || rule.Properties["cwe"] != "CWE-208" {
		t.Errorf("unexpected descriptor: %+v", rule)
	}

	if len(run.Results) != 1 {
		t.Fatalf("parse errors must not become results, got %d", len(run.Results))
	}
	r := run.Results[0]
	if r.RuleIndex == nil || *r.RuleIndex != 0 {
		t.Errorf("expected ruleIndex 0, got %v", r.RuleIndex)
	}
	region := r.Locations[0].PhysicalLocation.Region
	if region.StartLine != 7 || region.StartColumn != 12 || region.EndColumn != 40 {
		t.Errorf("unexpected region: %+v", region)
	}
	if r.Properties["vigil/suggestedFix"] != "Use hmac.compare_digest." {
		t.Errorf("suggested fix not carried: %v", r.Properties)
	}

	notes := run.Invocations[0].ToolExecutionNotifications
	if len(notes) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notes))
	}
	if !strings.HasPrefix(notes[0].Message.Text, "parse_error: ") || notes[1].Locations[0].PhysicalLocation.ArtifactLocation.URI != "big.py" {
		t.Errorf("unexpected notifications: %+v", notes)
	}
	if run.Properties["vigil/decision"] != "review" {
		t.Errorf("run property missing: %v", run.Properties)
	}
}

func TestAssembler_EmptyResultsEncodeAsArray(t *testing.T) {
	log := NewAssembler("vigil", "dev").Build()
	data, err := json.Marshal(log)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"results":[]`) {
		t.Errorf("results must encode as an empty array: %s", data)
	}
}

func TestRead(t *testing.T) {
	log := NewAssembler("vigil", "dev").AddRules(weakComparison).AddFindings(sampleFindings()...).Build()
	data, err := json.Marshal(log)
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := Read(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if got := parsed.Results(); len(got) != 1 || got[0].RuleID != "weak-comparison" {
		t.Errorf("unexpected results: %+v", got)
	}

	if _, err := Read(strings.NewReader(`{"version": "1.0.0", "runs": []}`)); err == nil {
		t.Error("expected error for unsupported version")
	}
	if _, err := Read(strings.NewReader(`{`)); err == nil {
		t.Error("expected error for malformed input")
	}
}

func TestLog_Findings(t *testing.T) {
	log := NewAssembler("vigil", "dev").AddRules(weakComparison).AddFindings(sampleFindings()...).Build()
	fs := log.Findings()
	if len(fs) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(fs))
	}
	f := fs[0]
	if f.RuleID != "weak-comparison" || f.Severity != finding.SeverityWarning || f.File != "auth.py" {
		t.Errorf("unexpected finding: %+v", f)
	}
	if f.Line() != 7 || f.Column() != 12 || f.Category != finding.CategorySecurity {
		t.Errorf("location or category lost: %+v", f)
	}
}
