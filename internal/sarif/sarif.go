// Package sarif holds the subset of SARIF 2.1.0 vigil emits and reads back.
package sarif

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/node"
)

const SchemaURI = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/main/sarif-2.1/schema/sarif-schema-2.1.0.json"
const Version = "2.1.0"

type Log struct {
	Schema  string `json:"$schema"`
	Version string `json:"version"`
	Runs    []Run  `json:"runs"`
}

type Run struct {
	Tool        Tool                   `json:"tool"`
	Results     []Result               `json:"results"`
	Invocations []Invocation           `json:"invocations,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
}

type Tool struct {
	Driver Driver `json:"driver"`
}

type Driver struct {
	Name           string                `json:"name"`
	Version        string                `json:"version,omitempty"`
	InformationURI string                `json:"informationUri,omitempty"`
	Rules          []ReportingDescriptor `json:"rules,omitempty"`
}

type ReportingDescriptor struct {
	ID               string                  `json:"id"`
	Name             string                  `json:"name,omitempty"`
	ShortDescription Message                 `json:"shortDescription,omitempty"`
	FullDescription  *Message                `json:"fullDescription,omitempty"`
	Help             *Message                `json:"help,omitempty"`
	DefaultConfig    *ReportingConfiguration `json:"defaultConfiguration,omitempty"`
	Properties       map[string]interface{}  `json:"properties,omitempty"`
}

type ReportingConfiguration struct {
	Level string `json:"level,omitempty"`
}

type Result struct {
	RuleID     string                 `json:"ruleId"`
	RuleIndex  *int                   `json:"ruleIndex,omitempty"`
	Level      string                 `json:"level"`
	Message    Message                `json:"message"`
	Locations  []Location             `json:"locations,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`

	PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
}

type Message struct {
	Text string `json:"text"`
}

type Location struct {
	PhysicalLocation PhysicalLocation `json:"physicalLocation"`
}

type PhysicalLocation struct {
	ArtifactLocation ArtifactLocation `json:"artifactLocation"`
	Region           Region           `json:"region,omitempty"`
}

type ArtifactLocation struct {
	URI string `json:"uri"`
}

type Region struct {
	StartLine   int `json:"startLine,omitempty"`
	StartColumn int `json:"startColumn,omitempty"`
	EndLine     int `json:"endLine,omitempty"`
	EndColumn   int `json:"endColumn,omitempty"`
}

// Invocation records whether the run completed and any per-file problems.
type Invocation struct {
	WorkingDirectory           *ArtifactLocation `json:"workingDirectory,omitempty"`
	ExecutionSuccessful        bool              `json:"executionSuccessful"`
	ToolExecutionNotifications []Notification    `json:"toolExecutionNotifications,omitempty"`
}

type Notification struct {
	Level     string     `json:"level"`
	Message   Message    `json:"message"`
	Locations []Location `json:"locations,omitempty"`
}

func NewLog(toolName, toolVersion string) *Log {
	return &Log{
		Schema:  SchemaURI,
		Version: Version,
		Runs: []Run{{
			Tool: Tool{
				Driver: Driver{
					Name:    toolName,
					Version: toolVersion,
				},
			},
			Results: []Result{},
		}},
	}
}

// Level maps a severity onto a SARIF result level.
func Level(s finding.Severity) string {
	switch s {
	case finding.SeverityCritical:
		return "error"
	case finding.SeverityWarning:
		return "warning"
	case finding.SeverityInfo:
		return "note"
	}
	return "none"
}

// SeverityFromLevel is the inverse of Level.
func SeverityFromLevel(level string) finding.Severity {
	switch level {
	case "error":
		return finding.SeverityCritical
	case "warning":
		return finding.SeverityWarning
	case "note":
		return finding.SeverityInfo
	}
	return finding.SeverityNone
}

// Read decodes a SARIF log.
func Read(r io.Reader) (*Log, error) {
	var log Log
	if err := json.NewDecoder(r).Decode(&log); err != nil {
		return nil, fmt.Errorf("decoding sarif: %w", err)
	}
	if log.Version != Version {
		return nil, fmt.Errorf("unsupported sarif version %q", log.Version)
	}
	return &log, nil
}

// Results returns the results of every run.
func (l *Log) Results() []Result {
	var out []Result
	for _, r := range l.Runs {
		out = append(out, r.Results...)
	}
	return out
}

// Findings converts the results of every run back into findings, for
// re-evaluating a stored log. Fields SARIF does not carry are left empty.
func (l *Log) Findings() []finding.Finding {
	var out []finding.Finding
	for _, r := range l.Results() {
		f := finding.Finding{
			RuleID:   r.RuleID,
			Severity: SeverityFromLevel(r.Level),
			Message:  r.Message.Text,
		}
		if len(r.Locations) > 0 {
			loc := r.Locations[0].PhysicalLocation
			f.File = loc.ArtifactLocation.URI
			f.Span = node.Range(loc.Region.StartLine, loc.Region.StartColumn, loc.Region.EndLine, loc.Region.EndColumn)
			f.Span.File = f.File
		}
		if c, ok := r.Properties["vigil/category"].(string); ok {
			f.Category = finding.Category(c)
		}
		if s, ok := r.Properties["vigil/suggestedFix"].(string); ok {
			f.SuggestedFix = s
		}
		out = append(out, f)
	}
	return out
}
