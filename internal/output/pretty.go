package output

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"

	"github.com/chris-regnier/vigil/internal/audit"
	"github.com/chris-regnier/vigil/internal/finding"
)

var (
	fileStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true)

	severityCriticalStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("196")).
				Bold(true)

	severityWarningStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("214")).
				Bold(true)

	severityInfoStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("75"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	ruleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("170"))

	passBanner   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("46")).Padding(0, 1)
	reviewBanner = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("214")).Padding(0, 1)
	failBanner   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("196")).Padding(0, 1)
)

// PrettyFormatter renders a report as colored, human-readable terminal
// output grouped by file, with a source line under each finding.
type PrettyFormatter struct {
	// Highlight syntax-highlights snippets with ANSI escapes.
	Highlight bool
	// ReadFile loads sources for snippets. Defaults to os.ReadFile; a
	// failing read just omits the snippet.
	ReadFile func(string) ([]byte, error)
}

func (f *PrettyFormatter) Format(r *audit.Report) ([]byte, error) {
	if r == nil || r.Verdict == nil {
		return nil, fmt.Errorf("pretty formatter: verdict is required")
	}
	read := f.ReadFile
	if read == nil {
		read = os.ReadFile
	}

	var b strings.Builder
	b.WriteString(banner(r.Verdict.Decision))
	if r.Verdict.Reason != "" {
		b.WriteString(" " + r.Verdict.Reason)
	}
	b.WriteString("\n")

	var files []string
	byFile := make(map[string][]finding.Finding)
	for _, fd := range r.Findings {
		if fd.RuleID == finding.ParseErrorRule {
			continue
		}
		if _, ok := byFile[fd.File]; !ok {
			files = append(files, fd.File)
		}
		byFile[fd.File] = append(byFile[fd.File], fd)
	}

	for _, file := range files {
		b.WriteString("\n" + fileStyle.Render(file) + "\n")
		var lines []string
		if src, err := read(file); err == nil {
			lines = strings.Split(string(src), "\n")
		}
		for _, fd := range byFile[file] {
			b.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
				dimStyle.Render(fmt.Sprintf("%d:%d", fd.Line(), fd.Column())),
				severityLabel(fd.Severity),
				ruleStyle.Render(fd.RuleID),
				fd.Message))
			if n := fd.Line(); n > 0 && n <= len(lines) {
				b.WriteString(fmt.Sprintf("      %s %s\n",
					dimStyle.Render(fmt.Sprintf("%4d │", n)),
					f.snippet(file, strings.TrimRight(lines[n-1], "\r"))))
			}
			if fd.SuggestedFix != "" {
				b.WriteString("      " + dimStyle.Render("fix: "+fd.SuggestedFix) + "\n")
			}
		}
	}

	if problems := r.Problems(); len(problems) > 0 {
		b.WriteString("\n" + fileStyle.Render("Files not analyzed") + "\n")
		for _, p := range problems {
			line := fmt.Sprintf("  %s  %s", p.File, dimStyle.Render(string(p.Status)))
			if p.Detail != "" {
				line += "  " + p.Detail
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString("\n" + summaryLine(r) + "\n")
	return []byte(b.String()), nil
}

func banner(decision string) string {
	switch decision {
	case "pass":
		return passBanner.Render("PASS")
	case "fail":
		return failBanner.Render("FAIL")
	default:
		return reviewBanner.Render(strings.ToUpper(decision))
	}
}

func severityLabel(s finding.Severity) string {
	label := fmt.Sprintf("%-8s", s)
	switch s {
	case finding.SeverityCritical:
		return severityCriticalStyle.Render(label)
	case finding.SeverityWarning:
		return severityWarningStyle.Render(label)
	default:
		return severityInfoStyle.Render(label)
	}
}

func summaryLine(r *audit.Report) string {
	s := r.Summary
	parts := []string{fmt.Sprintf("%d finding(s) (%d critical, %d warning, %d info) in %d file(s)",
		s.Total, s.Critical, s.Warning, s.Info, r.FilesAnalyzed)}
	if r.FilesFailed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed to parse", r.FilesFailed))
	}
	if r.Suppressed > 0 {
		parts = append(parts, fmt.Sprintf("%d suppressed", r.Suppressed))
	}
	if r.Duration > 0 {
		parts = append(parts, r.Duration.Round(time.Millisecond).String())
	}
	return dimStyle.Render(strings.Join(parts, " · "))
}

func (f *PrettyFormatter) snippet(file, line string) string {
	if !f.Highlight {
		return line
	}
	lexer := lexers.Match(file)
	if lexer == nil {
		return line
	}
	out, err := highlightLine(line, lexer)
	if err != nil {
		return line
	}
	return out
}

// highlightLine applies syntax highlighting to a single line of code.
func highlightLine(line string, lexer chroma.Lexer) (string, error) {
	iterator, err := lexer.Tokenise(nil, line)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	style := styles.Get("monokai")
	if style == nil {
		style = styles.Fallback
	}
	if err := formatters.TTY256.Format(&b, style, iterator); err != nil {
		return "", err
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}
