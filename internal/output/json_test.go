package output

import (
	"encoding/json"
	"testing"
)

func TestJSONFormatter(t *testing.T) {
	data, err := (&JSONFormatter{}).Format(testReport())
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		RunID   string `json:"run_id"`
		Verdict struct {
			Decision string `json:"decision"`
		} `json:"verdict"`
		Summary struct {
			Total      int `json:"total"`
			Diagnostic int `json:"diagnostic"`
		} `json:"summary"`
		Findings []struct {
			RuleID   string `json:"rule_id"`
			File     string `json:"file"`
			Line     int    `json:"line"`
			Column   int    `json:"column"`
			Severity string `json:"severity"`
			Message  string `json:"message"`
		} `json:"findings"`
		Files []struct {
			Status string `json:"status"`
		} `json:"files"`
		FailOn string `json:"fail_on"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, data)
	}
	if out.Verdict.Decision != "fail" || out.RunID == "" {
		t.Errorf("unexpected header: %+v", out)
	}
	if out.Summary.Total != 3 || out.Summary.Diagnostic != 1 {
		t.Errorf("unexpected summary: %+v", out.Summary)
	}
	if len(out.Findings) != 4 {
		t.Fatalf("expected 4 findings, got %d", len(out.Findings))
	}
	f := out.Findings[0]
	if f.RuleID != "hardcoded-secret" || f.Line != 3 || f.Column != 1 || f.Severity != "critical" || f.File != "app/auth.py" {
		t.Errorf("unexpected first finding: %+v", f)
	}
	if len(out.Files) != 4 || out.Files[1].Status != "parse_error" {
		t.Errorf("file statuses not carried: %+v", out.Files)
	}
	if out.FailOn != "critical" {
		t.Errorf("fail_on = %q", out.FailOn)
	}
}
