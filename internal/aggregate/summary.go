package aggregate

import (
	"sort"

	"github.com/chris-regnier/vigil/internal/finding"
)

// FileCount is a file and its number of findings.
type FileCount struct {
	File  string `json:"file"`
	Count int    `json:"count"`
}

// Summary counts findings by severity and category.
type Summary struct {
	Total      int                      `json:"total"`
	Critical   int                      `json:"critical"`
	Warning    int                      `json:"warning"`
	Info       int                      `json:"info"`
	Diagnostic int                      `json:"diagnostic"`
	ByCategory map[finding.Category]int `json:"by_category,omitempty"`
	ByRule     map[string]int           `json:"by_rule,omitempty"`
	TopFiles   []FileCount              `json:"top_files,omitempty"`
}

// TopFilesLimit bounds Summary.TopFiles.
const TopFilesLimit = 5

// Summarize builds a Summary. Parse-error findings are counted as
// diagnostics only.
func Summarize(fs []finding.Finding) Summary {
	s := Summary{
		ByCategory: make(map[finding.Category]int),
		ByRule:     make(map[string]int),
	}
	perFile := make(map[string]int)
	for _, f := range fs {
		if f.RuleID == finding.ParseErrorRule {
			s.Diagnostic++
			continue
		}
		s.Total++
		switch f.Severity {
		case finding.SeverityCritical:
			s.Critical++
		case finding.SeverityWarning:
			s.Warning++
		case finding.SeverityInfo:
			s.Info++
		}
		if f.Category != "" {
			s.ByCategory[f.Category]++
		}
		s.ByRule[f.RuleID]++
		perFile[f.File]++
	}
	s.TopFiles = MostProblematicFiles(perFile, TopFilesLimit)
	return s
}

// MostProblematicFiles returns up to n files with the most findings, ties
// broken by path.
func MostProblematicFiles(perFile map[string]int, n int) []FileCount {
	out := make([]FileCount, 0, len(perFile))
	for f, c := range perFile {
		out = append(out, FileCount{File: f, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].File < out[j].File
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// ByFile groups findings by file, keeping their order.
func ByFile(fs []finding.Finding) map[string][]finding.Finding {
	out := make(map[string][]finding.Finding)
	for _, f := range fs {
		out[f.File] = append(out[f.File], f)
	}
	return out
}

// Max returns the highest severity among fs, ignoring parse errors.
func Max(fs []finding.Finding) finding.Severity {
	max := finding.SeverityNone
	for _, f := range fs {
		if f.RuleID != finding.ParseErrorRule && f.Severity > max {
			max = f.Severity
		}
	}
	return max
}
