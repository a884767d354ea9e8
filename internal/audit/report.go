package audit

import (
	"time"

	"github.com/chris-regnier/vigil/internal/aggregate"
	"github.com/chris-regnier/vigil/internal/engine"
	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/input"
	"github.com/chris-regnier/vigil/internal/sarif"
	"github.com/chris-regnier/vigil/internal/store"
)

// FileStatus tells apart a clean file from one that was never analyzed.
type FileStatus struct {
	File     string        `json:"file"`
	Status   engine.Status `json:"status"`
	Findings int           `json:"findings"`
	Nodes    int           `json:"nodes,omitempty"`
	CacheHit bool          `json:"cache_hit,omitempty"`
	Detail   string        `json:"detail,omitempty"`
}

// Report is the outcome of one audit run.
type Report struct {
	RunID         string              `json:"run_id,omitempty"`
	Verdict       *store.Verdict      `json:"verdict"`
	Summary       aggregate.Summary   `json:"summary"`
	Findings      []finding.Finding   `json:"findings"`
	Files         []FileStatus        `json:"files"`
	Diagnostics   []*engine.RuleError `json:"diagnostics,omitempty"`
	FilesAnalyzed int                 `json:"files_analyzed"`
	FilesFailed   int                 `json:"files_failed"`
	FilesSkipped  int                 `json:"files_skipped"`
	Suppressed    int                 `json:"suppressed"`
	Filtered      int                 `json:"filtered"`
	FailOn        finding.Severity    `json:"fail_on"`
	Duration      time.Duration       `json:"duration_ns"`

	SARIF *sarif.Log `json:"-"`
}

// Failed reports whether the gate rejected the run.
func (r *Report) Failed() bool {
	return r.Verdict != nil && r.Verdict.Decision == "fail"
}

// Problems returns the files that were not analyzed cleanly.
func (r *Report) Problems() []FileStatus {
	var out []FileStatus
	for _, f := range r.Files {
		if f.Status != engine.StatusOK {
			out = append(out, f)
		}
	}
	return out
}

func fileStatuses(results []engine.FileResult, skipped []input.Skipped) []FileStatus {
	out := make([]FileStatus, 0, len(results)+len(skipped))
	for _, r := range results {
		out = append(out, FileStatus{
			File:     r.File,
			Status:   r.Status,
			Findings: len(r.Findings),
			Nodes:    r.Nodes,
			CacheHit: r.CacheHit,
			Detail:   r.Error,
		})
	}
	for _, s := range skipped {
		out = append(out, FileStatus{File: s.Path, Status: engine.StatusSkipped, Detail: s.Reason})
	}
	return out
}
