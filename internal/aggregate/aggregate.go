// Package aggregate merges per-file finding buffers into one deterministic,
// deduplicated and suppression-filtered list.
package aggregate

import (
	"errors"
	"sort"

	"github.com/chris-regnier/vigil/internal/finding"
)

// ErrFinalized is returned by Collect after Finalize until Reset is called.
var ErrFinalized = errors.New("aggregator already finalized")

// State is the aggregator lifecycle state.
type State int

const (
	Idle State = iota
	Collecting
	Finalized
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Finalized:
		return "finalized"
	}
	return "unknown"
}

// SuppressedFunc reports whether a finding of rule at file:line is
// suppressed. It is supplied by the caller.
type SuppressedFunc func(file string, line int, ruleID string) bool

// Aggregator collects findings for one run. It is not safe for concurrent
// use: workers keep their own buffers and the caller merges them once the
// workers are done.
type Aggregator struct {
	state   State
	batches [][]finding.Finding
	n       int
}

// New creates an idle Aggregator.
func New() *Aggregator { return &Aggregator{} }

// State returns the current lifecycle state.
func (a *Aggregator) State() State { return a.state }

// Collect appends one buffer. The order of Collect calls does not affect
// the finalized output.
func (a *Aggregator) Collect(batch []finding.Finding) error {
	if a.state == Finalized {
		return ErrFinalized
	}
	a.state = Collecting
	if len(batch) > 0 {
		a.batches = append(a.batches, batch)
		a.n += len(batch)
	}
	return nil
}

// Finalize dedupes by (rule id, file, span), drops suppressed findings and
// sorts the rest. A nil suppressed keeps everything. Severities are never
// changed.
func (a *Aggregator) Finalize(suppressed SuppressedFunc) []finding.Finding {
	a.state = Finalized
	out := make([]finding.Finding, 0, a.n)
	seen := make(map[finding.Key]bool, a.n)
	for _, b := range a.batches {
		for _, f := range b {
			k := f.Key()
			if seen[k] {
				continue
			}
			seen[k] = true
			if suppressed != nil && suppressed(f.File, f.Line(), f.RuleID) {
				continue
			}
			out = append(out, f)
		}
	}
	// Less is a total order over distinct keys, so the result does not
	// depend on batch order.
	sort.Slice(out, func(i, j int) bool { return finding.Less(out[i], out[j]) })
	a.batches = nil
	a.n = 0
	return out
}

// Reset returns a finalized aggregator to Idle.
func (a *Aggregator) Reset() {
	a.state = Idle
	a.batches = nil
	a.n = 0
}

// Run is the stateless form: collect all batches and finalize.
func Run(batches [][]finding.Finding, suppressed SuppressedFunc) []finding.Finding {
	a := New()
	for _, b := range batches {
		_ = a.Collect(b)
	}
	return a.Finalize(suppressed)
}

// FilterMinSeverity keeps findings at or above min. Parse-error findings are
// always kept so unanalyzed files stay visible.
func FilterMinSeverity(in []finding.Finding, min finding.Severity) []finding.Finding {
	if min <= finding.SeverityNone {
		return in
	}
	out := make([]finding.Finding, 0, len(in))
	for _, f := range in {
		if f.RuleID == finding.ParseErrorRule || f.Severity.AtLeast(min) {
			out = append(out, f)
		}
	}
	return out
}
