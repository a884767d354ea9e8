// Package suppress finds inline suppression directives in source comments
// and combines them with configured suppressions into the predicate the
// aggregator consults.
//
// Two directive spellings are recognized inside a comment:
//
//	x = compare(a, b)  # suppress: weak-comparison
//	# vigil:ignore n-plus-one-query, blocking-call-in-loop
//
// A directive after code on the same line applies to that line. A
// directive on a comment-only line applies to the next code line. A
// directive naming no rules, or "all" or "*", applies to every rule.
package suppress

import (
	"bytes"
	"path/filepath"
	"sort"
	"strings"
)

var directives = []string{"suppress:", "vigil:ignore"}

var commentTokens = []string{"#", "//", "/*"}

// Entry is one configured suppression. Line 0 covers the whole file and an
// empty Rule covers every rule.
type Entry struct {
	File string `yaml:"file" json:"file"`
	Line int    `yaml:"line,omitempty" json:"line,omitempty"`
	Rule string `yaml:"rule,omitempty" json:"rule,omitempty"`
}

// scope is the set of rules suppressed on one line. A nil map means all.
type scope map[string]struct{}

func (s scope) covers(rule string) bool {
	if s == nil {
		return true
	}
	_, ok := s[rule]
	return ok
}

func (s scope) clone() scope {
	if s == nil {
		return nil
	}
	c := make(scope, len(s))
	for r := range s {
		c[r] = struct{}{}
	}
	return c
}

// Manager answers suppression queries for one run. Sources must all be
// added before Suppressed is called concurrently.
type Manager struct {
	lines   map[string]map[int]scope
	entries []Entry
}

// New creates a Manager seeded with configured entries.
func New(entries []Entry) *Manager {
	m := &Manager{lines: make(map[string]map[int]scope)}
	for _, e := range entries {
		e.File = filepath.ToSlash(filepath.Clean(e.File))
		m.entries = append(m.entries, e)
	}
	return m
}

// AddSource scans src for directives and records them under file. Lines
// of any length are scanned.
func (m *Manager) AddSource(file string, src []byte) {
	var pending []scope
	for i, raw := range bytes.Split(src, []byte("\n")) {
		line := i + 1
		text := string(bytes.TrimSuffix(raw, []byte("\r")))
		code, comment, hasComment := splitComment(text)
		codeLine := strings.TrimSpace(code) != ""

		if codeLine && len(pending) > 0 {
			for _, s := range pending {
				m.add(file, line, s)
			}
			pending = nil
		}
		if !hasComment {
			continue
		}
		s, ok := parseDirective(comment)
		if !ok {
			continue
		}
		m.add(file, line, s)
		if !codeLine {
			pending = append(pending, s)
		}
	}
}

func (m *Manager) add(file string, line int, s scope) {
	byLine, ok := m.lines[file]
	if !ok {
		byLine = make(map[int]scope)
		m.lines[file] = byLine
	}
	prev, seen := byLine[line]
	switch {
	case !seen:
		byLine[line] = s.clone()
	case prev == nil || s == nil:
		byLine[line] = nil
	default:
		for r := range s {
			prev[r] = struct{}{}
		}
	}
}

// Suppressed reports whether rule is suppressed at file:line.
func (m *Manager) Suppressed(file string, line int, rule string) bool {
	if s, ok := m.lines[file][line]; ok && s.covers(rule) {
		return true
	}
	if len(m.entries) == 0 {
		return false
	}
	norm := filepath.ToSlash(filepath.Clean(file))
	for _, e := range m.entries {
		if e.Line != 0 && e.Line != line {
			continue
		}
		if e.Rule != "" && e.Rule != "*" && e.Rule != rule {
			continue
		}
		if matchFile(e.File, norm) {
			return true
		}
	}
	return false
}

// Count returns the number of lines carrying a directive in file.
func (m *Manager) Count(file string) int { return len(m.lines[file]) }

// matchFile matches a configured path against a finding path: exactly, as
// a trailing path suffix, or as a glob.
func matchFile(pattern, file string) bool {
	if pattern == file || strings.HasSuffix(file, "/"+pattern) {
		return true
	}
	ok, err := filepath.Match(pattern, file)
	return err == nil && ok
}

// ParseDirective extracts the rule list from comment text. ok is false when
// the comment carries no directive; a nil list means every rule.
func ParseDirective(comment string) (rules []string, ok bool) {
	s, ok := parseDirective(comment)
	if !ok || s == nil {
		return nil, ok
	}
	for r := range s {
		rules = append(rules, r)
	}
	sort.Strings(rules)
	return rules, true
}

func parseDirective(comment string) (scope, bool) {
	lower := strings.ToLower(comment)
	for _, d := range directives {
		i := strings.Index(lower, d)
		if i < 0 {
			continue
		}
		rest := comment[i+len(d):]
		if strings.HasPrefix(rest, ":") {
			rest = rest[1:]
		}
		if j := strings.Index(rest, "*/"); j >= 0 {
			rest = rest[:j]
		}
		// anything after " -- " is a free-form reason
		if j := strings.Index(rest, " -- "); j >= 0 {
			rest = rest[:j]
		}
		return parseRuleNames(rest), true
	}
	return nil, false
}

// parseRuleNames parses a comma or space separated rule list. An empty list
// or a wildcard yields nil, meaning every rule.
func parseRuleNames(text string) scope {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil
	}
	s := make(scope, len(fields))
	for _, f := range fields {
		if f == "*" || strings.EqualFold(f, "all") {
			return nil
		}
		s[f] = struct{}{}
	}
	return s
}

// splitComment finds the first comment token outside a string literal.
func splitComment(line string) (code, comment string, ok bool) {
	var quote byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		if quote != 0 {
			switch c {
			case '\\':
				i++
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'', '`':
			quote = c
			continue
		}
		for _, tok := range commentTokens {
			if strings.HasPrefix(line[i:], tok) {
				return line[:i], line[i+len(tok):], true
			}
		}
	}
	return line, "", false
}
