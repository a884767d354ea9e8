// Package finding holds the value types produced by the detection engine.
package finding

import (
	"fmt"
	"strings"

	"github.com/chris-regnier/vigil/internal/node"
)

// Severity orders findings by impact. The zero value is SeverityNone, used
// for informational diagnostics such as unparseable files.
type Severity uint8

const (
	SeverityNone Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityCritical
)

var severityNames = [...]string{"none", "info", "warning", "critical"}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return fmt.Sprintf("severity(%d)", uint8(s))
}

// ParseSeverity accepts the lowercase names plus a few common aliases.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "off":
		return SeverityNone, nil
	case "info", "note", "low":
		return SeverityInfo, nil
	case "warning", "warn", "medium":
		return SeverityWarning, nil
	case "critical", "error", "high":
		return SeverityCritical, nil
	}
	return SeverityNone, fmt.Errorf("unknown severity %q", s)
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool { return s >= min }

// Category groups rules by concern.
type Category string

const (
	CategorySecurity    Category = "security"
	CategoryPerformance Category = "performance"
	CategoryReliability Category = "reliability"
	CategoryDiagnostic  Category = "diagnostic"
)

// ParseErrorRule is the rule id attached to files that could not be parsed.
const ParseErrorRule = "parse-error"

// Finding is one reported issue. Findings are values: they are created by
// rules and only filtered or sorted afterwards.
type Finding struct {
	RuleID       string
	Severity     Severity
	Category     Category
	File         string
	Span         node.Span
	Message      string
	SuggestedFix string
	Explanation  string
	// Order is the registration index of the producing rule, used as the
	// final sort tie-break.
	Order int
}

// Key identifies a finding for deduplication.
type Key struct {
	RuleID string
	File   string
	Start  node.Pos
	End    node.Pos
}

// Key returns the dedupe key (rule id, file, span).
func (f Finding) Key() Key {
	return Key{RuleID: f.RuleID, File: f.File, Start: f.Span.Start, End: f.Span.End}
}

// Line is the 1-based start line.
func (f Finding) Line() int { return f.Span.Start.Line }

// Column is the 1-based start column.
func (f Finding) Column() int { return f.Span.Start.Column }

func (f Finding) String() string {
	return fmt.Sprintf("%s:%d:%d: %s [%s] %s", f.File, f.Line(), f.Column(), f.Severity, f.RuleID, f.Message)
}

// Less orders findings by file, position, rule id, then rule order.
func Less(a, b Finding) bool {
	if a.File != b.File {
		return a.File < b.File
	}
	if a.Span.Start != b.Span.Start {
		return a.Span.Start.Before(b.Span.Start)
	}
	if a.RuleID != b.RuleID {
		return a.RuleID < b.RuleID
	}
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.Span.End.Before(b.Span.End)
}
