package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chris-regnier/vigil/internal/audit"
	"github.com/chris-regnier/vigil/internal/finding"
)

// MarkdownFormatter renders a report as GitHub-Flavored Markdown suitable
// for PR comments. Uses collapsible <details> sections for findings and
// severity emojis for quick visual scanning.
type MarkdownFormatter struct{}

// severityEmoji returns the GitHub emoji shortcode for a severity.
func severityEmoji(s finding.Severity) string {
	switch s {
	case finding.SeverityCritical:
		return ":red_circle:"
	case finding.SeverityWarning:
		return ":warning:"
	case finding.SeverityInfo:
		return ":information_source:"
	default:
		return ":grey_question:"
	}
}

// decisionBanner returns the emoji + text for a verdict decision.
func decisionBanner(decision string) string {
	switch decision {
	case "pass":
		return ":white_check_mark: Pass"
	case "fail":
		return ":x: Fail"
	case "review":
		return ":warning: Review Required"
	default:
		return decision
	}
}

func lineRange(f finding.Finding) string {
	if f.Span.Start.Line == 0 {
		return ""
	}
	end := f.Span.End.Line
	if end == 0 {
		end = f.Span.Start.Line
	}
	return fmt.Sprintf("%d-%d", f.Span.Start.Line, end)
}

// Format produces GFM Markdown output from the report.
func (f *MarkdownFormatter) Format(r *audit.Report) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("markdown formatter: report is required")
	}
	if r.Verdict == nil {
		return nil, fmt.Errorf("markdown formatter: verdict is required")
	}

	var b strings.Builder
	var results []finding.Finding
	for _, fd := range r.Findings {
		if fd.RuleID != finding.ParseErrorRule {
			results = append(results, fd)
		}
	}

	b.WriteString("## Vigil Audit Summary\n\n")
	b.WriteString(fmt.Sprintf("**Decision:** %s | **Findings:** %d | **Files:** %d\n",
		decisionBanner(r.Verdict.Decision), len(results), r.FilesAnalyzed))
	if r.Verdict.Reason != "" {
		b.WriteString(fmt.Sprintf("\n_%s_\n", r.Verdict.Reason))
	}

	if len(results) == 0 {
		b.WriteString("\nNo findings detected.\n")
	} else {
		b.WriteString("\n### Findings by Severity\n")
		b.WriteString("| Severity | Count |\n")
		b.WriteString("|----------|-------|\n")
		for _, row := range []struct {
			name  string
			count int
		}{
			{"critical", r.Summary.Critical},
			{"warning", r.Summary.Warning},
			{"info", r.Summary.Info},
		} {
			if row.count > 0 {
				b.WriteString(fmt.Sprintf("| %s | %d |\n", row.name, row.count))
			}
		}

		if len(r.Summary.TopFiles) > 1 {
			b.WriteString("\n### Most Problematic Files\n")
			b.WriteString("| File | Findings |\n")
			b.WriteString("|------|----------|\n")
			for _, fc := range r.Summary.TopFiles {
				b.WriteString(fmt.Sprintf("| `%s` | %d |\n", fc.File, fc.Count))
			}
		}

		// Highest severity first; findings are already in file/line order.
		sorted := make([]finding.Finding, len(results))
		copy(sorted, results)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Severity > sorted[j].Severity })

		b.WriteString("\n### Findings\n\n")
		for _, fd := range sorted {
			lr := lineRange(fd)
			location := fmt.Sprintf(" in <code>%s</code>", fd.File)
			if lr != "" {
				location = fmt.Sprintf(" in <code>%s:%d</code>", fd.File, fd.Line())
			}

			b.WriteString("<details>\n")
			b.WriteString(fmt.Sprintf("<summary>%s <strong>%s</strong> %s: %s%s</summary>\n\n",
				severityEmoji(fd.Severity), fd.Severity, fd.RuleID, truncate(fd.Message, 80), location))
			b.WriteString(fmt.Sprintf("**Rule:** %s\n", fd.RuleID))
			if fd.Category != "" {
				b.WriteString(fmt.Sprintf("**Category:** %s\n", fd.Category))
			}
			if lr != "" {
				b.WriteString(fmt.Sprintf("**File:** `%s` lines %s\n", fd.File, lr))
			} else {
				b.WriteString(fmt.Sprintf("**File:** `%s`\n", fd.File))
			}
			b.WriteString(fmt.Sprintf("\n> %s\n", fd.Message))
			if fd.SuggestedFix != "" {
				b.WriteString(fmt.Sprintf("\n**Suggested fix:** %s\n", fd.SuggestedFix))
			}
			b.WriteString("\n</details>\n\n")
		}
	}

	if problems := r.Problems(); len(problems) > 0 {
		b.WriteString("\n### Files Not Analyzed\n")
		b.WriteString("| File | Status | Detail |\n")
		b.WriteString("|------|--------|--------|\n")
		for _, p := range problems {
			b.WriteString(fmt.Sprintf("| `%s` | %s | %s |\n", p.File, p.Status, escapeCell(p.Detail)))
		}
		b.WriteString("\n")
	}

	b.WriteString("---\n")
	if r.RunID != "" {
		b.WriteString(fmt.Sprintf("*Generated by [Vigil](https://github.com/chris-regnier/vigil) · run `%s`*\n", r.RunID))
	} else {
		b.WriteString("*Generated by [Vigil](https://github.com/chris-regnier/vigil)*\n")
	}
	return []byte(b.String()), nil
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

// truncate shortens a string to maxLen characters, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
