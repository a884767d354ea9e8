// Package evaluator turns an audit's findings into a pass/review/fail
// verdict using a Rego policy.
package evaluator

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/chris-regnier/vigil/internal/finding"
	"github.com/chris-regnier/vigil/internal/store"
)

//go:embed default.rego
var defaultPolicy string

// Query is the policy document the evaluator reads. Custom policies must
// define decision (and optionally reason) under package vigil.gate.
const Query = "data.vigil.gate"

// Decisions produced by the gate.
const (
	DecisionPass   = "pass"
	DecisionReview = "review"
	DecisionFail   = "fail"
)

type Evaluator struct {
	query   rego.PreparedEvalQuery
	modules []string
}

// NewEvaluator creates an evaluator. If policyDir is empty or holds no .rego
// files the embedded default policy is used; otherwise every .rego file in
// policyDir is loaded in its place.
func NewEvaluator(ctx context.Context, policyDir string) (*Evaluator, error) {
	opts := []func(*rego.Rego){rego.Query(Query)}
	var names []string

	if policyDir != "" {
		entries, err := os.ReadDir(policyDir)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading policy dir: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".rego") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(policyDir, e.Name()))
			if err != nil {
				return nil, err
			}
			opts = append(opts, rego.Module(e.Name(), string(data)))
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		opts = append(opts, rego.Module("default.rego", defaultPolicy))
		names = append(names, "default.rego")
	}

	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing rego query: %w", err)
	}
	sort.Strings(names)
	return &Evaluator{query: query, modules: names}, nil
}

// Modules returns the names of the loaded policy files.
func (e *Evaluator) Modules() []string { return e.modules }

// Evaluate runs the policy over findings. failOn is the severity at which
// the default policy fails the gate.
func (e *Evaluator) Evaluate(ctx context.Context, findings []finding.Finding, failOn finding.Severity) (*store.Verdict, error) {
	if findings == nil {
		findings = []finding.Finding{}
	}
	input, err := toInput(map[string]interface{}{
		"findings": findings,
		"fail_on":  failOn.String(),
	})
	if err != nil {
		return nil, err
	}

	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("evaluating rego: %w", err)
	}

	decision := DecisionReview
	reason := ""
	if len(results) > 0 && len(results[0].Expressions) > 0 {
		if doc, ok := results[0].Expressions[0].Value.(map[string]interface{}); ok {
			if d, ok := doc["decision"].(string); ok {
				decision = d
			}
			if r, ok := doc["reason"].(string); ok {
				reason = r
			}
		}
	}
	if reason == "" {
		reason = fmt.Sprintf("Decision: %s based on %d findings", decision, len(findings))
	}

	var relevant []finding.Finding
	for _, f := range findings {
		if f.RuleID == finding.ParseErrorRule {
			continue
		}
		switch decision {
		case DecisionFail:
			if f.Severity.AtLeast(failOn) {
				relevant = append(relevant, f)
			}
		case DecisionReview:
			if f.Severity.AtLeast(finding.SeverityWarning) {
				relevant = append(relevant, f)
			}
		}
	}

	return &store.Verdict{
		Decision:         decision,
		Reason:           reason,
		RelevantFindings: relevant,
		Metadata: map[string]interface{}{
			"fail_on":  failOn.String(),
			"findings": len(findings),
			"policies": e.modules,
		},
	}, nil
}

// toInput round-trips v through JSON so the policy sees plain maps and the
// findings' wire field names.
func toInput(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var input interface{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	return input, nil
}
