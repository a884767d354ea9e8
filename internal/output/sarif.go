package output

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"

	"github.com/chris-regnier/vigil/internal/audit"
	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/sarif"
)

// SARIFFormatter renders the report's SARIF 2.1.0 log enriched with GitHub
// Code Scanning properties (security-severity, precision, partial
// fingerprints and the working directory).
type SARIFFormatter struct{}

// Format enriches the SARIF log in-place and serializes it as indented JSON
// with a trailing newline.
func (f *SARIFFormatter) Format(r *audit.Report) ([]byte, error) {
	if r == nil || r.SARIF == nil {
		return nil, fmt.Errorf("sarif formatter: SARIF log is required")
	}
	log := r.SARIF
	for i := range log.Runs {
		enrichRun(&log.Runs[i])
	}
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("sarif formatter: %w", err)
	}
	return append(data, '\n'), nil
}

func enrichRun(run *sarif.Run) {
	wd, _ := os.Getwd()
	if len(run.Invocations) == 0 {
		run.Invocations = []sarif.Invocation{{ExecutionSuccessful: true}}
	}
	if wd != "" {
		run.Invocations[0].WorkingDirectory = &sarif.ArtifactLocation{URI: wd}
	}
	for i := range run.Tool.Driver.Rules {
		d := &run.Tool.Driver.Rules[i]
		if d.Properties == nil {
			d.Properties = make(map[string]interface{})
		}
		if d.DefaultConfig != nil {
			d.Properties["security-severity"] = securitySeverity(d.DefaultConfig.Level)
		}
	}
	for j := range run.Results {
		enrichResult(&run.Results[j])
	}
}

// enrichResult adds a partial fingerprint, security-severity and precision.
func enrichResult(r *sarif.Result) {
	if r.PartialFingerprints == nil {
		r.PartialFingerprints = make(map[string]string)
	}
	if r.Properties == nil {
		r.Properties = make(map[string]interface{})
	}

	uri := ""
	startLine := 0
	if len(r.Locations) > 0 {
		loc := r.Locations[0]
		uri = loc.PhysicalLocation.ArtifactLocation.URI
		startLine = loc.PhysicalLocation.Region.StartLine
	}
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d|%s", r.RuleID, uri, startLine, r.Message.Text)))
	r.PartialFingerprints["primaryLocationLineHash"] = fmt.Sprintf("%x", hash[:16])

	r.Properties["security-severity"] = securitySeverity(r.Level)
	category, _ := r.Properties["vigil/category"].(string)
	r.Properties["precision"] = categoryPrecision(finding.Category(category))
}

// securitySeverity maps SARIF levels to GitHub Code Scanning scores.
func securitySeverity(level string) float64 {
	switch level {
	case "error":
		return 8.0
	case "warning":
		return 5.0
	default:
		return 2.0
	}
}

// categoryPrecision maps rule categories to Code Scanning precision values.
// Security rules match concrete sinks; performance rules rely on naming
// heuristics.
func categoryPrecision(c finding.Category) string {
	if c == finding.CategorySecurity {
		return "high"
	}
	return "medium"
}
