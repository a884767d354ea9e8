package output

import (
	"strings"
	"testing"

	"github.com/chris-regnier/vigil/internal/audit"
	"github.com/chris-regnier/vigil/internal/store"
)

func TestMarkdownFormatter(t *testing.T) {
	data, err := (&MarkdownFormatter{}).Format(testReport())
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)

	for _, want := range []string{
		"## Vigil Audit Summary",
		"**Decision:** :x: Fail | **Findings:** 3 | **Files:** 2",
		"| critical | 1 |",
		"| warning | 1 |",
		"| info | 1 |",
		"<code>app/auth.py:3</code>",
		"**Suggested fix:** Load API_KEY",
		"### Files Not Analyzed",
		"| `app/broken.py` | parse_error |",
		"| `app/huge.py` | skipped |",
		"run `2026-03-01T10-20-30Z-abcdef12`",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "<strong>none</strong>") {
		t.Error("parse errors must not be listed as findings")
	}
}

func TestMarkdownFormatter_SeverityOrder(t *testing.T) {
	out := string(mustFormat(t, &MarkdownFormatter{}, testReport()))
	crit := strings.Index(out, "hardcoded-secret:")
	warn := strings.Index(out, "weak-comparison:")
	info := strings.Index(out, "quadratic-concat:")
	if crit < 0 || warn < 0 || info < 0 || !(crit < warn && warn < info) {
		t.Errorf("findings not ordered by severity: %d %d %d", crit, warn, info)
	}
}

func TestMarkdownFormatter_NoFindings(t *testing.T) {
	r := &audit.Report{Verdict: &store.Verdict{Decision: "pass"}, FilesAnalyzed: 3}
	out := string(mustFormat(t, &MarkdownFormatter{}, r))
	if !strings.Contains(out, ":white_check_mark: Pass") || !strings.Contains(out, "No findings detected.") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "Files Not Analyzed") {
		t.Error("no problem table expected")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncate(strings.Repeat("x", 20), 10); got != "xxxxxxx..." {
		t.Errorf("got %q", got)
	}
}

func mustFormat(t *testing.T, f Formatter, r *audit.Report) []byte {
	t.Helper()
	data, err := f.Format(r)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
