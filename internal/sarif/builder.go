package sarif

import (
	"github.com/chris-regnier/vigil/internal/engine"
	"github.com/chris-regnier/vigil/internal/finding"
)

const informationURI = "https://github.com/chris-regnier/vigil"

// FileProblem is a file that could not be audited.
type FileProblem struct {
	File   string
	Status string
	Detail string
}

// Assembler builds a single-run SARIF log from findings.
type Assembler struct {
	name, version string
	rules         []ReportingDescriptor
	index         map[string]int
	results       []Result
	problems      []FileProblem
	properties    map[string]interface{}
}

// NewAssembler creates an Assembler for the named tool.
func NewAssembler(name, version string) *Assembler {
	return &Assembler{
		name:    name,
		version: version,
		index:   make(map[string]int),
		results: []Result{},
	}
}

// AddRules registers rule descriptors in the given order.
func (a *Assembler) AddRules(metas ...engine.Meta) *Assembler {
	for _, m := range metas {
		if _, ok := a.index[m.ID]; ok {
			continue
		}
		a.index[m.ID] = len(a.rules)
		a.rules = append(a.rules, descriptor(m))
	}
	return a
}

func descriptor(m engine.Meta) ReportingDescriptor {
	d := ReportingDescriptor{
		ID:               m.ID,
		Name:             m.Name,
		ShortDescription: Message{Text: m.Name},
		DefaultConfig:    &ReportingConfiguration{Level: Level(m.Severity)},
		Properties: map[string]interface{}{
			"tags": []string{string(m.Category)},
		},
	}
	if d.ShortDescription.Text == "" {
		d.ShortDescription.Text = m.ID
	}
	if m.Explanation != "" {
		d.FullDescription = &Message{Text: m.Explanation}
	}
	if m.Remediation != "" {
		d.Help = &Message{Text: m.Remediation}
	}
	if m.CWE != "" {
		d.Properties["cwe"] = m.CWE
	}
	return d
}

// AddFindings appends one result per finding. Parse-error findings become
// tool notifications instead of results.
func (a *Assembler) AddFindings(fs ...finding.Finding) *Assembler {
	for _, f := range fs {
		if f.RuleID == finding.ParseErrorRule {
			a.problems = append(a.problems, FileProblem{File: f.File, Status: "parse_error", Detail: f.Message})
			continue
		}
		r := Result{
			RuleID:    f.RuleID,
			Level:     Level(f.Severity),
			Message:   Message{Text: f.Message},
			Locations: []Location{location(f)},
		}
		if i, ok := a.index[f.RuleID]; ok {
			r.RuleIndex = &i
		}
		props := map[string]interface{}{}
		if f.Category != "" {
			props["vigil/category"] = string(f.Category)
		}
		if f.SuggestedFix != "" {
			props["vigil/suggestedFix"] = f.SuggestedFix
		}
		if len(props) > 0 {
			r.Properties = props
		}
		a.results = append(a.results, r)
	}
	return a
}

func location(f finding.Finding) Location {
	return Location{PhysicalLocation: PhysicalLocation{
		ArtifactLocation: ArtifactLocation{URI: f.File},
		Region: Region{
			StartLine:   f.Span.Start.Line,
			StartColumn: f.Span.Start.Column,
			EndLine:     f.Span.End.Line,
			EndColumn:   f.Span.End.Column,
		},
	}}
}

// AddProblems records files that were not audited.
func (a *Assembler) AddProblems(ps ...FileProblem) *Assembler {
	a.problems = append(a.problems, ps...)
	return a
}

// WithProperty sets a run-level property.
func (a *Assembler) WithProperty(key string, value interface{}) *Assembler {
	if a.properties == nil {
		a.properties = make(map[string]interface{})
	}
	a.properties[key] = value
	return a
}

// Build returns the assembled log.
func (a *Assembler) Build() *Log {
	log := NewLog(a.name, a.version)
	run := &log.Runs[0]
	run.Tool.Driver.InformationURI = informationURI
	run.Tool.Driver.Rules = a.rules
	run.Results = a.results
	run.Properties = a.properties

	inv := Invocation{ExecutionSuccessful: true}
	for _, p := range a.problems {
		n := Notification{Level: "warning", Message: Message{Text: p.Status + ": " + p.Detail}}
		if p.Detail == "" {
			n.Message.Text = p.Status
		}
		n.Locations = []Location{{PhysicalLocation: PhysicalLocation{ArtifactLocation: ArtifactLocation{URI: p.File}}}}
		inv.ToolExecutionNotifications = append(inv.ToolExecutionNotifications, n)
	}
	run.Invocations = []Invocation{inv}
	return log
}
