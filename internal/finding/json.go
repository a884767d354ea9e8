package finding

import (
	"encoding/json"

	"github.com/chris-regnier/vigil/internal/node"
)

// wire is the flat serialized form of a Finding.
type wire struct {
	RuleID       string   `json:"rule_id"`
	File         string   `json:"file"`
	Line         int      `json:"line"`
	Column       int      `json:"column"`
	EndLine      int      `json:"end_line"`
	EndColumn    int      `json:"end_column"`
	Severity     Severity `json:"severity"`
	Category     Category `json:"category,omitempty"`
	Message      string   `json:"message"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
	Explanation  string   `json:"explanation,omitempty"`
}

func (f Finding) MarshalJSON() ([]byte, error) {
	return json.Marshal(wire{
		RuleID:       f.RuleID,
		File:         f.File,
		Line:         f.Span.Start.Line,
		Column:       f.Span.Start.Column,
		EndLine:      f.Span.End.Line,
		EndColumn:    f.Span.End.Column,
		Severity:     f.Severity,
		Category:     f.Category,
		Message:      f.Message,
		SuggestedFix: f.SuggestedFix,
		Explanation:  f.Explanation,
	})
}

func (f *Finding) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*f = Finding{
		RuleID:   w.RuleID,
		Severity: w.Severity,
		Category: w.Category,
		File:     w.File,
		Span: node.Span{
			File:  w.File,
			Start: node.Pos{Line: w.Line, Column: w.Column},
			End:   node.Pos{Line: w.EndLine, Column: w.EndColumn},
		},
		Message:      w.Message,
		SuggestedFix: w.SuggestedFix,
		Explanation:  w.Explanation,
	}
	return nil
}
