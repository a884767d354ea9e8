package node

import "fmt"

// Pos is a 1-based line/column position.
type Pos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Before reports whether p sorts strictly before q.
func (p Pos) Before(q Pos) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Column < q.Column
}

// Span is a source range within one file. File is filled in when the node is
// attached to a Tree.
type Span struct {
	File  string `json:"file,omitempty"`
	Start Pos    `json:"start"`
	End   Pos    `json:"end"`
}

// IsZero reports whether no position has been recorded.
func (s Span) IsZero() bool { return s.Start == (Pos{}) && s.End == (Pos{}) }

// Contains reports whether o lies within s (inclusive).
func (s Span) Contains(o Span) bool {
	return !o.Start.Before(s.Start) && !s.End.Before(o.End)
}

// Union returns the smallest span covering both s and o. A zero span is the
// identity.
func (s Span) Union(o Span) Span {
	if s.IsZero() {
		return o
	}
	if o.IsZero() {
		return s
	}
	u := s
	if o.Start.Before(u.Start) {
		u.Start = o.Start
	}
	if u.End.Before(o.End) {
		u.End = o.End
	}
	return u
}

func (s Span) String() string {
	if s.File != "" {
		return fmt.Sprintf("%s:%d:%d", s.File, s.Start.Line, s.Start.Column)
	}
	return fmt.Sprintf("%d:%d", s.Start.Line, s.Start.Column)
}

// At builds a single-position span.
func At(line, col int) Span {
	return Span{Start: Pos{line, col}, End: Pos{line, col}}
}

// Range builds a span from start to end.
func Range(startLine, startCol, endLine, endCol int) Span {
	return Span{Start: Pos{startLine, startCol}, End: Pos{endLine, endCol}}
}
